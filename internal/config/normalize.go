package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeCapture()
	if err := c.normalizeTrim(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeLogging()
	return c.normalizeMetrics()
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir()
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	derived := []struct {
		key   string
		value *string
		leaf  string
	}{
		{"paths.vault_dir", &c.Paths.VaultDir, "vault"},
		{"paths.catalog_path", &c.Paths.CatalogPath, "catalog.db"},
		{"paths.scratch_dir", &c.Paths.ScratchDir, "scratch"},
		{"paths.log_dir", &c.Paths.LogDir, "logs"},
	}
	for _, entry := range derived {
		if strings.TrimSpace(*entry.value) == "" {
			*entry.value = filepath.Join(c.Paths.DataDir, entry.leaf)
		}
		if *entry.value, err = expandPath(*entry.value); err != nil {
			return fmt.Errorf("%s: %w", entry.key, err)
		}
	}
	return nil
}

func (c *Config) normalizeCapture() {
	c.Capture.FFmpegBinary = strings.TrimSpace(c.Capture.FFmpegBinary)
	if c.Capture.FFmpegBinary == "" {
		c.Capture.FFmpegBinary = defaultFFmpegBinary
	}
	c.Capture.InputFormat = strings.TrimSpace(c.Capture.InputFormat)
	if c.Capture.InputFormat == "" {
		c.Capture.InputFormat = defaultInputFormat
	}
	c.Capture.Display = strings.TrimSpace(c.Capture.Display)
	if c.Capture.Display == "" {
		if value, ok := os.LookupEnv("DISPLAY"); ok && strings.TrimSpace(value) != "" {
			c.Capture.Display = strings.TrimSpace(value)
		} else {
			c.Capture.Display = defaultDisplay
		}
	}
	if c.Capture.Framerate <= 0 {
		c.Capture.Framerate = defaultFramerate
	}
	c.Capture.AudioFormat = strings.TrimSpace(c.Capture.AudioFormat)
	if c.Capture.AudioFormat == "" {
		c.Capture.AudioFormat = defaultAudioFormat
	}
	// Empty audio sources are meaningful: they disable that input.
	c.Capture.SystemAudio = strings.TrimSpace(c.Capture.SystemAudio)
	c.Capture.Microphone = strings.TrimSpace(c.Capture.Microphone)
	if c.Capture.FlushIntervalMS <= 0 {
		c.Capture.FlushIntervalMS = defaultFlushIntervalMS
	}
	c.Capture.PreferredMIME = strings.TrimSpace(c.Capture.PreferredMIME)
	if c.Capture.PreferredMIME == "" {
		c.Capture.PreferredMIME = defaultPreferredMIME
	}
}

func (c *Config) normalizeTrim() error {
	if value, ok := os.LookupEnv("FLUX_TRIM_MODE"); ok && strings.TrimSpace(value) != "" {
		c.Trim.Mode = value
	}
	c.Trim.Mode = strings.ToLower(strings.TrimSpace(c.Trim.Mode))
	if c.Trim.Mode == "" {
		c.Trim.Mode = defaultTrimMode
	}
	c.Trim.EngineBinary = strings.TrimSpace(c.Trim.EngineBinary)
	if c.Trim.EngineBinary == "" {
		c.Trim.EngineBinary = c.Capture.FFmpegBinary
	}
	c.Trim.EngineSHA256 = strings.ToLower(strings.TrimSpace(c.Trim.EngineSHA256))
	mirrors := c.Trim.Mirrors[:0]
	for _, mirror := range c.Trim.Mirrors {
		if trimmed := strings.TrimSpace(mirror); trimmed != "" {
			mirrors = append(mirrors, trimmed)
		}
	}
	c.Trim.Mirrors = mirrors
	if strings.TrimSpace(c.Trim.CacheDir) == "" {
		c.Trim.CacheDir = defaultCacheDir()
	}
	var err error
	if c.Trim.CacheDir, err = expandPath(c.Trim.CacheDir); err != nil {
		return fmt.Errorf("trim.cache_dir: %w", err)
	}
	c.Trim.Preset = strings.TrimSpace(c.Trim.Preset)
	if c.Trim.Preset == "" {
		c.Trim.Preset = defaultTrimPreset
	}
	if c.Trim.DownloadTimeout <= 0 {
		c.Trim.DownloadTimeout = defaultDownloadTimeout
	}
	return nil
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.ProgressStep <= 0 {
		c.Pipeline.ProgressStep = defaultProgressStep
	}
	if c.Pipeline.ProgressStep > 100 {
		c.Pipeline.ProgressStep = 100
	}
	if c.Pipeline.ProgressIntervalMS < 0 {
		c.Pipeline.ProgressIntervalMS = 0
	}
	if c.Pipeline.MinTrimWindow < 0 {
		c.Pipeline.MinTrimWindow = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = 0
	}
	if c.Logging.MaxAgeDays < 0 {
		c.Logging.MaxAgeDays = 0
	}
	if len(c.Logging.ComponentOverrides) > 0 {
		overrides := make(map[string]string, len(c.Logging.ComponentOverrides))
		for name, level := range c.Logging.ComponentOverrides {
			key := strings.ToLower(strings.TrimSpace(name))
			if key == "" {
				continue
			}
			overrides[key] = strings.ToLower(strings.TrimSpace(level))
		}
		c.Logging.ComponentOverrides = overrides
	}
}

func (c *Config) normalizeMetrics() error {
	c.Metrics.TextfilePath = strings.TrimSpace(c.Metrics.TextfilePath)
	if c.Metrics.TextfilePath == "" {
		return nil
	}
	var err error
	if c.Metrics.TextfilePath, err = expandPath(c.Metrics.TextfilePath); err != nil {
		return fmt.Errorf("metrics.textfile_path: %w", err)
	}
	return nil
}
