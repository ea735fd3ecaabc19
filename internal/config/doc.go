// Package config loads, normalizes, and validates Flux configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DISPLAY and FLUX_TRIM_MODE. The Config type centralizes every knob the CLI
// needs, allowing the vault, catalog, and scratch locations plus the capture
// and trim settings to be discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
