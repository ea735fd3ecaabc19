package pipeline

import (
	"fmt"

	"flux/internal/trim"
)

// SaveRequest describes the user's save action. A zero Start and End means no
// trim was requested.
type SaveRequest struct {
	Start float64
	End   float64
	// Duration overrides the probed payload duration when positive.
	Duration float64
	// Mode overrides the configured trim mode when set.
	Mode string
}

// HasRange reports whether a trim window was requested.
func (r SaveRequest) HasRange() bool {
	return r.Start != 0 || r.End != 0
}

// Validate checks the window against duration and the minimum trim length.
func (r SaveRequest) Validate(duration, minWindow float64) error {
	if !r.HasRange() {
		return nil
	}
	if err := trim.ValidateRange(r.Start, r.End, duration); err != nil {
		return err
	}
	if r.End-r.Start < minWindow {
		return fmt.Errorf("%w: window %.3fs is shorter than %.3fs", trim.ErrInvalidRange, r.End-r.Start, minWindow)
	}
	return nil
}
