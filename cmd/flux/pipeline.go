package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"flux/internal/capture"
	"flux/internal/logging"
	"flux/internal/media"
	"flux/internal/media/ffprobe"
	"flux/internal/pipeline"
	"flux/internal/trim"
)

// newOrchestrator wires the ffmpeg-backed capture and trim collaborators into
// a pipeline over the session's stores.
func newOrchestrator(s *session, observer pipeline.Observer) *pipeline.Orchestrator {
	cfg := s.cfg
	loader := trim.NewLoader(cfg, s.logger)
	devices := capture.NewFFmpegDevices(cfg, s.logger)
	encoder := capture.NewFFmpegEncoder(cfg, s.logger)

	return pipeline.New(pipeline.SettingsFromConfig(cfg), pipeline.Deps{
		Sessions: func() pipeline.CaptureSession {
			return capture.NewSession(devices, encoder, s.logger,
				capture.WithFlushInterval(cfg.FlushInterval()),
				capture.WithPreferredMIME(cfg.Capture.PreferredMIME),
			)
		},
		Vault:      s.vault,
		Catalog:    s.catalog,
		Precise:    trim.NewPrecise(cfg, loader, s.logger),
		Heuristic:  trim.Heuristic{},
		Capability: trim.NewCapability(cfg, loader),
		Probe: func(ctx context.Context, payload media.Payload) float64 {
			result, err := ffprobe.InspectPayload(ctx, cfg.FFprobeBinary(), cfg.Paths.ScratchDir, payload)
			if err != nil {
				s.logger.Debug("duration probe failed", logging.Error(err))
				return 0
			}
			return result.DurationSeconds()
		},
		Metrics:  s.metrics,
		Observer: observer,
		Logger:   s.logger,
	})
}

// consoleObserver renders pipeline notifications. On a terminal progress and
// elapsed time rewrite a single line; otherwise each update is its own line.
type consoleObserver struct {
	mu       sync.Mutex
	out      io.Writer
	terminal bool
	lastPct  int
}

func newConsoleObserver(out io.Writer) *consoleObserver {
	return &consoleObserver{out: out, terminal: interactive(out)}
}

func (o *consoleObserver) OnPhase(pipeline.Phase) {}

func (o *consoleObserver) OnProgress(percent int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if percent <= o.lastPct {
		return
	}
	o.lastPct = percent
	if o.terminal {
		fmt.Fprintf(o.out, "\rSaving… %3d%%", percent)
		if percent >= 100 {
			fmt.Fprintln(o.out)
		}
		return
	}
	fmt.Fprintf(o.out, "Saving… %d%%\n", percent)
}

func (o *consoleObserver) OnAdvisory(message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.out, "Note: %s\n", message)
}

func (o *consoleObserver) OnElapsed(elapsed time.Duration) {
	if !o.terminal {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.out, "\rRecording %s", formatClock(elapsed.Seconds()))
}

func (o *consoleObserver) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.terminal {
		fmt.Fprintln(o.out)
	}
	o.lastPct = 0
}
