// Package main hosts the Flux CLI entrypoint and command graph.
//
// The Cobra command tree drives the capture pipeline from a terminal: record
// or import a video, trim it, persist it into the local vault and catalog, and
// reopen it later through its watch route. Configuration resolution, logging,
// the single-instance lock, and store lifetimes are centralized in context.go
// so subcommands only deal with user experience.
//
// Keep this package lean: new behaviour belongs in the internal packages first
// and is surfaced here through a dedicated command or flag.
package main
