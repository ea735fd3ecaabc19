package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"flux/internal/catalog"
	"flux/internal/config"
	"flux/internal/logging"
	"flux/internal/metrics"
	"flux/internal/scratch"
	"flux/internal/vault"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// session bundles what a command needs while it touches the stores. Fields
// stay nil when the command did not ask for them.
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	catalog *catalog.Store
	vault   *vault.Store
	metrics *metrics.Recorder
	lock    *flock.Flock

	logCloser io.Closer
}

type sessionNeeds struct {
	vault bool
	lock  bool
}

var errLocked = errors.New("another flux process is recording or saving")

// open loads config, builds the logger, and opens the stores in dependency
// order. The returned session must be closed.
func (c *commandContext) open(needs sessionNeeds) (*session, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, closer, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	s := &session{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics.New(cfg.Metrics.TextfilePath),
		logCloser: closer,
	}

	if needs.lock {
		s.lock = flock.New(cfg.LockPath())
		locked, err := s.lock.TryLock()
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("acquire %s: %w", cfg.LockPath(), err)
		}
		if !locked {
			s.lock = nil
			s.Close()
			return nil, fmt.Errorf("%w (lock %s)", errLocked, cfg.LockPath())
		}
	}
	if s.catalog, err = catalog.Open(cfg, logger); err != nil {
		s.Close()
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if needs.vault {
		if needs.lock {
			scratch.Sweep(context.Background(), cfg.Paths.ScratchDir, scratch.DefaultMaxAge, logger)
		}
		if s.vault, err = vault.Open(cfg, logger, vault.WithSharedAccess()); err != nil {
			s.Close()
			return nil, fmt.Errorf("open vault: %w", err)
		}
	}
	return s, nil
}

// Close releases handles and stores in reverse order and flushes metrics.
func (s *session) Close() {
	if s == nil {
		return
	}
	if s.vault != nil {
		if err := s.vault.ReleaseAll(); err != nil {
			s.logger.Debug("release handles", logging.Error(err))
		}
		if err := s.vault.Close(); err != nil {
			s.logger.Warn("close vault", logging.Error(err))
		}
	}
	if s.catalog != nil {
		_ = s.catalog.Close()
	}
	if err := s.metrics.Flush(); err != nil {
		s.logger.Warn("metrics export failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "metrics_flush_failed"),
			logging.String(logging.FieldErrorHint, "check metrics.textfile_path"),
		)
	}
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	if s.logCloser != nil {
		_ = s.logCloser.Close()
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

// interactive reports whether w is a terminal.
func interactive(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
