package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and file locations.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	VaultDir    string `toml:"vault_dir"`
	CatalogPath string `toml:"catalog_path"`
	ScratchDir  string `toml:"scratch_dir"`
	LogDir      string `toml:"log_dir"`
}

// Capture contains configuration for the screen recorder.
type Capture struct {
	FFmpegBinary    string `toml:"ffmpeg_binary"`
	InputFormat     string `toml:"input_format"`
	Display         string `toml:"display"`
	Framerate       int    `toml:"framerate"`
	AudioFormat     string `toml:"audio_format"`
	SystemAudio     string `toml:"system_audio"`
	Microphone      string `toml:"microphone"`
	FlushIntervalMS int    `toml:"flush_interval_ms"`
	PreferredMIME   string `toml:"preferred_mime"`
}

// Trim contains configuration for the trim engine.
type Trim struct {
	// Mode selects the strategy: precise, heuristic, or none.
	Mode         string `toml:"mode"`
	EngineBinary string `toml:"engine_binary"`
	// EngineSHA256 pins the downloadable engine build. Required when Mirrors is set.
	EngineSHA256    string   `toml:"engine_sha256"`
	Mirrors         []string `toml:"mirrors"`
	CacheDir        string   `toml:"cache_dir"`
	Preset          string   `toml:"preset"`
	DownloadTimeout int      `toml:"download_timeout"`
}

// Pipeline contains orchestrator tuning.
type Pipeline struct {
	ProgressStep        int     `toml:"progress_step"`
	ProgressIntervalMS  int     `toml:"progress_interval_ms"`
	CompletionThreshold float64 `toml:"completion_threshold"`
	MinTrimWindow       float64 `toml:"min_trim_window"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format             string            `toml:"format"`
	Level              string            `toml:"level"`
	MaxSizeMB          int               `toml:"max_size_mb"`
	MaxBackups         int               `toml:"max_backups"`
	MaxAgeDays         int               `toml:"max_age_days"`
	ComponentOverrides map[string]string `toml:"component_overrides"`
}

// Metrics contains configuration for the Prometheus textfile export.
type Metrics struct {
	TextfilePath string `toml:"textfile_path"`
}

// Config encapsulates all configuration values for Flux.
//
// Configuration sections by subsystem:
//   - Paths: vault, catalog, scratch, and log locations
//   - Capture: ffmpeg capture devices and chunk flushing
//   - Trim: precise engine resolution and trim strategy
//   - Pipeline: persistence progress and playback thresholds
//   - Logging: log format, level, and rotation
//   - Metrics: Prometheus textfile output
type Config struct {
	Paths    Paths    `toml:"paths"`
	Capture  Capture  `toml:"capture"`
	Trim     Trim     `toml:"trim"`
	Pipeline Pipeline `toml:"pipeline"`
	Logging  Logging  `toml:"logging"`
	Metrics  Metrics  `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("flux.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the vault, catalog, and scratch
// areas live in.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.VaultDir,
		filepath.Dir(c.Paths.CatalogPath),
		c.Paths.ScratchDir,
		c.Paths.LogDir,
		c.Trim.CacheDir,
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Metrics.TextfilePath != "" {
		// Best-effort; a missing collector directory only disables the export.
		_ = os.MkdirAll(filepath.Dir(c.Metrics.TextfilePath), 0o755)
	}
	return nil
}

// LockPath returns the single-instance lock file guarding record and save.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "flux.lock")
}

// LogFilePath returns the rotating log file location.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "flux.log")
}

// FFprobeBinary returns the ffprobe executable that sits next to the configured ffmpeg.
func (c *Config) FFprobeBinary() string {
	bin := strings.TrimSpace(c.Capture.FFmpegBinary)
	if bin == "" || !strings.ContainsRune(bin, filepath.Separator) {
		return "ffprobe"
	}
	return filepath.Join(filepath.Dir(bin), "ffprobe")
}

// FlushInterval returns the capture chunk flush interval.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Capture.FlushIntervalMS) * time.Millisecond
}

// ProgressInterval returns the delay between persistence progress steps.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.Pipeline.ProgressIntervalMS) * time.Millisecond
}

// DownloadTimeout returns the per-mirror engine download timeout.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Trim.DownloadTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultDataDir() string {
	if base, ok := os.LookupEnv("XDG_DATA_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "flux")
	}
	return "~/.local/share/flux"
}

func defaultCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "flux", "engine")
	}
	return "~/.cache/flux/engine"
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
