package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"flux/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.VaultDir = filepath.Join(base, "data", "vault")
	cfgVal.Paths.CatalogPath = filepath.Join(base, "data", "catalog.db")
	cfgVal.Paths.ScratchDir = filepath.Join(base, "data", "scratch")
	cfgVal.Paths.LogDir = filepath.Join(base, "data", "logs")
	cfgVal.Capture.Display = ":99.0"
	cfgVal.Trim.CacheDir = filepath.Join(base, "cache", "engine")
	cfgVal.Pipeline.ProgressIntervalMS = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithTrimMode overrides the trim strategy on the test config.
func WithTrimMode(mode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Trim.Mode = mode
	}
}

// WithEngineBinary points the precise trim engine at path.
func WithEngineBinary(path string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Trim.EngineBinary = path
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg and ffprobe are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			WriteScript(b.t, filepath.Join(binDir, name), "exit 0\n")
		}
		PrependPath(b.t, binDir)
	}
}

// PrependPath puts dir at the front of PATH for the duration of the test.
func PrependPath(t testing.TB, dir string) {
	t.Helper()
	oldPath := os.Getenv("PATH")
	if err := os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath); err != nil {
		t.Fatalf("set PATH: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Setenv("PATH", oldPath)
	})
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
