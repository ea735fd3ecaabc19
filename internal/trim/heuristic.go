package trim

import (
	"context"
	"math"

	"flux/internal/media"
)

// Heuristic slices the payload at byte offsets derived from the average byte
// rate. The result is not frame accurate and may not be a well-formed file.
type Heuristic struct{}

// Trim implements Trimmer. Output length never exceeds the input and is at
// least one byte for a non-empty input.
func (Heuristic) Trim(ctx context.Context, payload media.Payload, start, end, duration float64) (media.Payload, error) {
	if err := ValidateRange(start, end, duration); err != nil {
		return media.Payload{}, err
	}
	if err := ctx.Err(); err != nil {
		return media.Payload{}, err
	}
	lo, hi := ByteRange(payload.Size(), start, end, duration)
	return media.NewPayload(payload.Data[lo:hi], payload.MIMEType), nil
}

// ByteRange returns the [lo, hi) byte offsets Heuristic would cut for a
// validated window. The length depends only on end-start, so a wider window
// never yields fewer bytes wherever it starts.
func ByteRange(size int64, start, end, duration float64) (int64, int64) {
	if size <= 0 || duration <= 0 {
		return 0, 0
	}
	rate := float64(size) / duration
	n := clamp(int64(math.Floor((end-start)*rate)), 1, size)
	lo := clamp(int64(math.Floor(start*rate)), 0, size-n)
	return lo, lo + n
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
