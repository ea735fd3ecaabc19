package scratch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flux/internal/logging"
)

// DefaultMaxAge is how old a scratch entry must be before Sweep removes it.
// Handles and trim work directories live only as long as one command.
const DefaultMaxAge = 24 * time.Hour

// SweepResult contains the outcome of a sweep.
type SweepResult struct {
	Removed []string
	Freed   int64
	Errors  []SweepError
}

// SweepError pairs a path with its removal error.
type SweepError struct {
	Path  string
	Error error
}

// Sweep removes entries of dir, and of its handles subdirectory, that were
// last modified before maxAge ago. Leftovers come from processes that exited
// without releasing their playable files or trim work directories.
func Sweep(ctx context.Context, dir string, maxAge time.Duration, logger *slog.Logger) SweepResult {
	var result SweepResult
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return result
	}
	cutoff := time.Now().Add(-maxAge)
	sweepDir(ctx, dir, cutoff, logger, &result)
	sweepDir(ctx, filepath.Join(dir, "handles"), cutoff, logger, &result)

	if len(result.Removed) > 0 && logger != nil {
		logger.Info("scratch swept",
			logging.Int("removed", len(result.Removed)),
			logging.Int64("freed_bytes", result.Freed),
			logging.String(logging.FieldEventType, "scratch_cleanup"),
		)
	}
	return result
}

func sweepDir(ctx context.Context, dir string, cutoff time.Time, logger *slog.Logger, result *SweepResult) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, SweepError{Path: dir, Error: err})
		}
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		// The handles directory itself is permanent.
		if entry.IsDir() && entry.Name() == "handles" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, SweepError{Path: path, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		size := entrySize(path, info)
		if err := os.RemoveAll(path); err != nil {
			result.Errors = append(result.Errors, SweepError{Path: path, Error: err})
			if logger != nil {
				logging.WarnWithContext(logger, "failed to remove stale scratch entry", "scratch_cleanup_failed",
					logging.String("path", path),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check paths.scratch_dir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, path)
		result.Freed += size
	}
}

// Usage reports the number of entries and bytes under dir.
func Usage(dir string) (int, int64) {
	var count int
	var size int64
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			count++
			size += info.Size()
		}
		return nil
	})
	return count, size
}

func entrySize(path string, info os.FileInfo) int64 {
	if !info.IsDir() {
		return info.Size()
	}
	_, size := Usage(path)
	return size
}
