package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Encoders the capture and precise trim pipelines hand to ffmpeg.
var (
	CaptureEncoders = []string{"libvpx-vp9", "libopus"}
	TrimEncoders    = []string{"libx264", "aac"}
)

type outputRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultOutputRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// CheckEncoders asks binary for its encoder list and reports which of want
// are missing.
func CheckEncoders(ctx context.Context, name, binary string, want []string) Status {
	return checkEncoders(ctx, name, binary, want, defaultOutputRunner)
}

func checkEncoders(ctx context.Context, name, binary string, want []string, run outputRunner) Status {
	status := Status{
		Name:        name,
		Command:     binary,
		Description: "ffmpeg encoders " + strings.Join(want, ", "),
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := run(ctx, binary, "-hide_banner", "-encoders")
	if err != nil {
		status.Detail = fmt.Sprintf("list encoders: %v", err)
		return status
	}
	have := parseEncoders(out)
	var missing []string
	for _, enc := range want {
		if !have[enc] {
			missing = append(missing, enc)
		}
	}
	if len(missing) > 0 {
		status.Detail = "missing " + strings.Join(missing, ", ")
		return status
	}
	status.Available = true
	return status
}

// parseEncoders reads "ffmpeg -encoders" output. Encoder lines start with a
// six-character flag column followed by the encoder name.
func parseEncoders(out []byte) map[string]bool {
	names := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	inList := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !inList {
			inList = strings.HasPrefix(line, "------")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && len(fields[0]) == 6 {
			names[fields[1]] = true
		}
	}
	return names
}
