// Package logging assembles structured slog loggers and formatting helpers used
// across Flux.
//
// It owns the console and JSON handlers, writes a rotating JSON log file via
// lumberjack, applies per-component level overrides, and exposes
// context-aware helpers so pipeline code can tag log lines with recording IDs,
// phases, and correlation IDs. The package also provides a no-op logger for
// tests and wiring code that cannot fail.
package logging
