package catalog

import (
	"errors"
	"strings"
	"time"
)

// DocumentKey is the key the aggregate catalog document is stored under.
const DocumentKey = "flux_metadata_v1"

// Recording is the metadata half of a persisted recording. The binary payload
// lives in the vault under the same ID.
type Recording struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"createdAt"`
	Duration       float64   `json:"duration"`
	Views          int64     `json:"views"`
	CompletionRate float64   `json:"completionRate"`
	Size           int64     `json:"size"`
	MIMEType       string    `json:"mimeType"`
}

// Stats summarizes the catalog.
type Stats struct {
	Count      int
	TotalBytes int64
	TotalViews int64
}

var errMissingID = errors.New("recording id is required")

func (r Recording) validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errMissingID
	}
	return nil
}

// ClampPercent bounds a playback percentage to [0, 100].
func ClampPercent(percent float64) float64 {
	switch {
	case percent != percent: // NaN
		return 0
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	default:
		return percent
	}
}
