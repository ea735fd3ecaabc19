package trim

import (
	"context"
	"errors"
	"fmt"
	"math"

	"flux/internal/media"
)

// ErrInvalidRange is returned when a window does not satisfy
// 0 <= start < end <= duration.
var ErrInvalidRange = errors.New("invalid trim range")

// Trimmer produces a payload containing approximately [start, end) of the input.
type Trimmer interface {
	Trim(ctx context.Context, payload media.Payload, start, end, duration float64) (media.Payload, error)
}

// ValidateRange checks the window against the payload duration.
func ValidateRange(start, end, duration float64) error {
	for _, v := range []float64{start, end, duration} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite bound", ErrInvalidRange)
		}
	}
	if start < 0 || start >= end || end > duration {
		return fmt.Errorf("%w: start=%.3f end=%.3f duration=%.3f", ErrInvalidRange, start, end, duration)
	}
	return nil
}
