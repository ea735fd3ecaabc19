package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateTrim(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.VaultDir == c.Paths.CatalogPath {
		return errors.New("paths.vault_dir and paths.catalog_path must differ")
	}
	return nil
}

func (c *Config) validateCapture() error {
	if c.Capture.Framerate > 240 {
		return errors.New("capture.framerate must be 240 or lower")
	}
	if !strings.HasPrefix(c.Capture.PreferredMIME, "video/") {
		return fmt.Errorf("capture.preferred_mime %q must be a video media type", c.Capture.PreferredMIME)
	}
	return nil
}

func (c *Config) validateTrim() error {
	switch c.Trim.Mode {
	case TrimModePrecise, TrimModeHeuristic, TrimModeNone:
	default:
		return fmt.Errorf("trim.mode %q must be one of %s, %s, %s", c.Trim.Mode, TrimModePrecise, TrimModeHeuristic, TrimModeNone)
	}
	if len(c.Trim.Mirrors) > 0 && c.Trim.EngineSHA256 == "" {
		return errors.New("trim.engine_sha256 must be set when trim.mirrors is configured")
	}
	if c.Trim.EngineSHA256 != "" {
		decoded, err := hex.DecodeString(c.Trim.EngineSHA256)
		if err != nil || len(decoded) != 32 {
			return errors.New("trim.engine_sha256 must be a 64 character hex digest")
		}
	}
	for _, mirror := range c.Trim.Mirrors {
		parsed, err := url.Parse(mirror)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
			return fmt.Errorf("trim.mirrors entry %q must be an http(s) URL", mirror)
		}
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.CompletionThreshold < 0 || c.Pipeline.CompletionThreshold >= 100 {
		return errors.New("pipeline.completion_threshold must be between 0 and 100")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if err := validateLevel("logging.level", c.Logging.Level); err != nil {
		return err
	}
	for name, level := range c.Logging.ComponentOverrides {
		if err := validateLevel("logging.component_overrides."+name, level); err != nil {
			return err
		}
	}
	return nil
}

func validateLevel(key, level string) error {
	switch level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("%s %q must be one of debug, info, warn, error", key, level)
	}
}
