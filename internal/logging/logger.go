package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"flux/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// Console receives the human-facing stream. Defaults to stderr so command
	// output on stdout stays machine readable.
	Console io.Writer
	// FilePath enables a rotating JSON log file alongside the console stream.
	FilePath        string
	MaxSizeMB       int
	MaxBackups      int
	MaxAgeDays      int
	ComponentLevels map[string]string
	Development     bool
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New constructs a slog logger using the provided options. The returned closer
// flushes and closes the rotating log file when one is configured.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level := parseLevel(opts.Level)
	overrides := parseOverrides(opts.ComponentLevels)

	// Base handlers run at the most verbose level any component needs; the
	// component handler applies the effective per-logger level.
	floor := level
	for _, lvl := range overrides {
		if lvl < floor {
			floor = lvl
		}
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(floor)

	addSource := opts.Development || level <= slog.LevelDebug

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "console"
	}

	var consoleHandler slog.Handler
	switch format {
	case "json":
		consoleHandler = newJSONHandler(console, levelVar, addSource)
	case "console":
		consoleHandler = newPrettyHandler(console, levelVar, addSource)
	default:
		return nil, nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	var closer io.Closer = nopCloser{}
	handlers := []slog.Handler{consoleHandler}
	if path := strings.TrimSpace(opts.FilePath); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("ensure log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		handlers = append(handlers, newJSONHandler(rotator, levelVar, true))
		closer = rotator
	}

	handler := newComponentLevelHandler(newFanoutHandler(handlers...), level, overrides)
	return slog.New(handler), closer, nil
}

// NewFromConfig creates a logger using application config values.
func NewFromConfig(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	if cfg == nil {
		return New(Options{Level: "info", Format: "console"})
	}
	return New(Options{
		Level:           cfg.Logging.Level,
		Format:          cfg.Logging.Format,
		FilePath:        cfg.LogFilePath(),
		MaxSizeMB:       cfg.Logging.MaxSizeMB,
		MaxBackups:      cfg.Logging.MaxBackups,
		MaxAgeDays:      cfg.Logging.MaxAgeDays,
		ComponentLevels: cfg.Logging.ComponentOverrides,
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseOverrides(levels map[string]string) map[string]slog.Level {
	if len(levels) == 0 {
		return nil
	}
	out := make(map[string]slog.Level, len(levels))
	for name, lvl := range levels {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		out[key] = parseLevel(lvl)
	}
	return out
}
