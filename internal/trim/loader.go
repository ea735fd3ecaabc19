package trim

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/singleflight"

	"flux/internal/config"
	"flux/internal/fault"
	"flux/internal/logging"
)

const engineFileName = "ffmpeg"

// Engine is a resolved precise-trim executable.
type Engine struct {
	Binary  string
	Version string
	// Source records where the binary came from: configured, cache, or a mirror URL.
	Source string
}

// Loader resolves the precise engine once per process. A failed load is kept
// and returned to later callers until Reload is called.
type Loader struct {
	binary   string
	digest   string
	mirrors  []string
	cacheDir string
	timeout  time.Duration
	client   *http.Client
	logger   *slog.Logger

	group singleflight.Group

	mu     sync.Mutex
	done   bool
	engine *Engine
	err    error
	loads  int
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithHTTPClient sets the client used to fetch mirrors.
func WithHTTPClient(client *http.Client) LoaderOption {
	return func(l *Loader) {
		if client != nil {
			l.client = client
		}
	}
}

// NewLoader builds a loader from the trim configuration.
func NewLoader(cfg *config.Config, logger *slog.Logger, opts ...LoaderOption) *Loader {
	l := &Loader{
		binary:   strings.TrimSpace(cfg.Trim.EngineBinary),
		digest:   strings.ToLower(strings.TrimSpace(cfg.Trim.EngineSHA256)),
		mirrors:  append([]string(nil), cfg.Trim.Mirrors...),
		cacheDir: cfg.Trim.CacheDir,
		timeout:  cfg.DownloadTimeout(),
		client:   http.DefaultClient,
		logger:   logging.NewComponentLogger(logger, "trim"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the engine, resolving it on first use. Concurrent first callers
// share one resolution. Failures are wrapped with fault.ErrTrimFailed; a
// cancelled context is returned as is and not remembered.
func (l *Loader) Load(ctx context.Context) (*Engine, error) {
	if engine, ok, err := l.cached(); ok {
		return engine, err
	}
	result, err, _ := l.group.Do("engine", func() (any, error) {
		if engine, ok, err := l.cached(); ok {
			return engine, err
		}
		engine, err := l.resolve(ctx)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			err = fault.Wrap(fault.ErrTrimFailed, "trim", "load engine", "", err)
			logging.WarnWithContext(l.logger, "precise engine unavailable", "engine_load_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "set trim.engine_binary or configure trim.mirrors with trim.engine_sha256"),
				logging.String(logging.FieldImpact, "recordings are saved untrimmed"),
			)
		} else {
			l.logger.Info("precise engine ready",
				logging.String("binary", engine.Binary),
				logging.String("version", engine.Version),
				logging.String("source", engine.Source),
			)
		}
		l.mu.Lock()
		l.done, l.engine, l.err = true, engine, err
		l.loads++
		l.mu.Unlock()
		return engine, err
	})
	if err != nil {
		return nil, err
	}
	return result.(*Engine), nil
}

// Reload forgets the remembered outcome so the next Load resolves again.
func (l *Loader) Reload() {
	l.mu.Lock()
	l.done, l.engine, l.err = false, nil, nil
	l.mu.Unlock()
}

// Loads reports how many resolutions have completed.
func (l *Loader) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

// Capability returns the prerequisite check for this loader.
func (l *Loader) Capability() Capability {
	return Capability{loader: l}
}

func (l *Loader) cached() (*Engine, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine, l.done, l.err
}

func (l *Loader) resolve(ctx context.Context) (*Engine, error) {
	var errs []error

	if path, ok := l.localBinary(); ok {
		version, err := probeVersion(ctx, path)
		if err == nil {
			return &Engine{Binary: path, Version: version, Source: "configured"}, nil
		}
		errs = append(errs, fmt.Errorf("configured engine %s: %w", path, err))
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if l.digest == "" {
		if len(errs) == 0 {
			errs = append(errs, fmt.Errorf("engine %q not found and no digest pinned", l.binary))
		}
		return nil, errors.Join(errs...)
	}

	target := l.cachePath()
	if err := verifyFile(target, l.digest); err == nil {
		version, err := probeVersion(ctx, target)
		if err == nil {
			return &Engine{Binary: target, Version: version, Source: "cache"}, nil
		}
		errs = append(errs, fmt.Errorf("cached engine: %w", err))
	} else if !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("cached engine: %w", err))
	}

	for _, mirror := range l.mirrors {
		if err := l.download(ctx, mirror, target); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.logger.Debug("mirror failed", logging.String("mirror", mirror), logging.Error(err))
			errs = append(errs, fmt.Errorf("mirror %s: %w", mirror, err))
			continue
		}
		version, err := probeVersion(ctx, target)
		if err != nil {
			errs = append(errs, fmt.Errorf("downloaded engine from %s: %w", mirror, err))
			continue
		}
		return &Engine{Binary: target, Version: version, Source: mirror}, nil
	}
	if len(l.mirrors) == 0 {
		errs = append(errs, errors.New("no mirrors configured"))
	}
	return nil, errors.Join(errs...)
}

// localBinary resolves the configured engine on disk or PATH.
func (l *Loader) localBinary() (string, bool) {
	if l.binary == "" {
		return "", false
	}
	path, err := exec.LookPath(l.binary)
	if err != nil {
		return "", false
	}
	return path, true
}

func (l *Loader) cachePath() string {
	return filepath.Join(l.cacheDir, l.digest, engineFileName)
}

func (l *Loader) download(ctx context.Context, mirror, target string) error {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mirror, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure cache directory: %w", err)
	}
	pending, err := renameio.NewPendingFile(target, renameio.WithPermissions(0o755), renameio.WithTempDir(dir))
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(pending, hasher), resp.Body); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	if got := hex.EncodeToString(hasher.Sum(nil)); got != l.digest {
		return fmt.Errorf("sha256 mismatch: got %s want %s", got, l.digest)
	}
	return pending.CloseAtomicallyReplace()
}

func verifyFile(path, digest string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return err
	}
	if got := hex.EncodeToString(hasher.Sum(nil)); got != digest {
		return fmt.Errorf("sha256 mismatch: got %s want %s", got, digest)
	}
	return nil
}

func probeVersion(ctx context.Context, binary string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, "-hide_banner", "-version") //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s -version: %w: %s", binary, err, strings.TrimSpace(stderr.String()))
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	return "", nil
}
