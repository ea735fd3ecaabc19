package trim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"flux/internal/config"
	"flux/internal/fault"
	"flux/internal/logging"
	"flux/internal/media"
)

type commandRunner func(ctx context.Context, name string, args ...string) error

// Precise re-encodes the requested window with the loaded engine.
type Precise struct {
	loader     *Loader
	scratchDir string
	preset     string
	run        commandRunner
	logger     *slog.Logger
}

// PreciseOption customizes a Precise trimmer.
type PreciseOption func(*Precise)

// WithCommandRunner injects a custom command runner (primarily for tests).
func WithCommandRunner(r commandRunner) PreciseOption {
	return func(p *Precise) {
		if r != nil {
			p.run = r
		}
	}
}

// NewPrecise builds a precise trimmer that works inside cfg.Paths.ScratchDir.
func NewPrecise(cfg *config.Config, loader *Loader, logger *slog.Logger, opts ...PreciseOption) *Precise {
	p := &Precise{
		loader:     loader,
		scratchDir: cfg.Paths.ScratchDir,
		preset:     cfg.Trim.Preset,
		run:        defaultCommandRunner,
		logger:     logging.NewComponentLogger(logger, "trim"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Trim implements Trimmer. Load and execution failures carry
// fault.ErrTrimFailed; context cancellation is returned unwrapped. Scratch
// files are removed on every path.
func (p *Precise) Trim(ctx context.Context, payload media.Payload, start, end, duration float64) (media.Payload, error) {
	if err := ValidateRange(start, end, duration); err != nil {
		return media.Payload{}, err
	}
	engine, err := p.loader.Load(ctx)
	if err != nil {
		return media.Payload{}, err
	}

	if err := os.MkdirAll(p.scratchDir, 0o755); err != nil {
		return media.Payload{}, fault.Wrap(fault.ErrTrimFailed, "trim", "prepare scratch", "", err)
	}
	workDir, err := os.MkdirTemp(p.scratchDir, "trim-")
	if err != nil {
		return media.Payload{}, fault.Wrap(fault.ErrTrimFailed, "trim", "prepare scratch", "", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			p.logger.Debug("scratch cleanup failed", logging.String("dir", workDir), logging.Error(err))
		}
	}()

	input := filepath.Join(workDir, "input"+payload.Extension())
	output := filepath.Join(workDir, "output.mp4")
	if err := os.WriteFile(input, payload.Data, 0o600); err != nil {
		return media.Payload{}, fault.Wrap(fault.ErrTrimFailed, "trim", "write input", "", err)
	}

	args := BuildArgs(input, output, start, end, p.preset)
	started := time.Now()
	if err := p.run(ctx, engine.Binary, args...); err != nil {
		if ctx.Err() != nil {
			return media.Payload{}, ctx.Err()
		}
		return media.Payload{}, fault.Wrap(fault.ErrTrimFailed, "trim", "encode", "", err)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return media.Payload{}, fault.Wrap(fault.ErrTrimFailed, "trim", "read output", "", err)
	}
	if len(data) == 0 {
		return media.Payload{}, fault.Wrap(fault.ErrTrimFailed, "trim", "read output", "engine produced an empty file", nil)
	}
	p.logger.Info("precise trim complete",
		logging.Float64("start", start),
		logging.Float64("end", end),
		logging.Int64("input_bytes", payload.Size()),
		logging.Int("output_bytes", len(data)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return media.Payload{Data: data, MIMEType: media.MIMEMP4}, nil
}

// BuildArgs returns the engine arguments for clipping [start, end) of input
// into an H.264/AAC MP4. The seek is placed before -i.
func BuildArgs(input, output string, start, end float64, preset string) []string {
	if strings.TrimSpace(preset) == "" {
		preset = "ultrafast"
	}
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", formatSeconds(start),
		"-to", formatSeconds(end),
		"-i", input,
		"-c:v", "libx264",
		"-preset", preset,
		"-c:a", "aac",
		output,
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stderr strings.Builder
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
