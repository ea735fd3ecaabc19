package preflight

import (
	"context"

	"flux/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Optional checks never block a run.
	Optional bool
}

// Capability is the precise trim support probe.
type Capability interface {
	Check() error
}

// RunAll executes every applicable check for cfg. capability may be nil when
// the caller does not use precise trimming.
func RunAll(ctx context.Context, cfg *config.Config, capability Capability) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Vault directory", cfg.Paths.VaultDir),
		CheckDirectoryAccess("Scratch directory", cfg.Paths.ScratchDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	results = append(results, CheckSystemDeps(ctx, cfg)...)
	results = append(results, CheckTrimEngine(cfg, capability))
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			out = append(out, r)
		}
	}
	return out
}
