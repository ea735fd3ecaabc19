package preflight

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"flux/internal/config"
	"flux/internal/deps"
	"flux/internal/fault"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "path not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps resolves the capture binaries and, when ffmpeg is present,
// confirms it was built with the encoders capture needs.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []Result {
	statuses := deps.CheckBinaries([]deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.Capture.FFmpegBinary,
			Description: "Required for screen capture",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "Used to measure recording duration",
			Optional:    true,
		},
	})
	if ffmpeg := statuses[0]; ffmpeg.Available {
		statuses = append(statuses, deps.CheckEncoders(ctx, "Capture encoders", ffmpeg.Command, deps.CaptureEncoders))
	}

	results := make([]Result, 0, len(statuses))
	for _, s := range statuses {
		detail := s.Detail
		if s.Available {
			detail = s.Command
		}
		results = append(results, Result{Name: s.Name, Passed: s.Available, Detail: detail, Optional: s.Optional})
	}
	return results
}

// CheckTrimEngine reports whether precise trimming can be attempted. It is
// always optional: saves fall back to the untrimmed recording.
func CheckTrimEngine(cfg *config.Config, capability Capability) Result {
	const name = "Precise trim engine"
	result := Result{Name: name, Optional: true}
	status := "available"
	switch {
	case capability == nil:
		status = "no engine loader configured"
	default:
		if err := capability.Check(); err != nil {
			status = fmt.Sprintf("%s (%v)", fault.Kind(err), err)
		}
	}
	if cfg.Trim.Mode != config.TrimModePrecise {
		// Only --mode precise reaches the engine.
		result.Passed = true
		result.Detail = fmt.Sprintf("on request only (trim.mode = %s): %s", cfg.Trim.Mode, status)
		return result
	}
	result.Passed = status == "available"
	result.Detail = status
	return result
}
