package trim

import (
	"os"

	"flux/internal/config"
	"flux/internal/fault"
)

// Capability reports whether the precise engine can be attempted. It performs
// no downloads and runs no binaries.
// It does not look at trim.mode: a save request may ask for precise mode
// under any configured default.
type Capability struct {
	loader *Loader
}

// NewCapability builds the check for the engine cfg resolves.
func NewCapability(cfg *config.Config, loader *Loader) Capability {
	return Capability{loader: loader}
}

// Supported reports whether Check passes.
func (c Capability) Supported() bool {
	return c.Check() == nil
}

// Check returns nil when a local engine is resolvable, a verified cache entry
// exists, or mirrors with a pinned digest are configured. Otherwise the error
// carries fault.ErrCapabilityUnsupported.
func (c Capability) Check() error {
	if c.loader == nil {
		return fault.Wrap(fault.ErrCapabilityUnsupported, "trim", "capability", "no engine loader", nil)
	}
	if _, ok := c.loader.localBinary(); ok {
		return nil
	}
	if c.loader.digest != "" {
		if _, err := os.Stat(c.loader.cachePath()); err == nil {
			return nil
		}
		if len(c.loader.mirrors) > 0 {
			return nil
		}
	}
	return fault.Wrap(fault.ErrCapabilityUnsupported, "trim", "capability",
		"no local engine and no pinned mirror", nil)
}
