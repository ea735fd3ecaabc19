package capture

import (
	"context"
)

// TrackKind distinguishes video from audio tracks.
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Track is one acquired device input. Stop releases it and is idempotent.
type Track interface {
	Kind() TrackKind
	Label() string
	Stop()
}

// Stream groups the tracks one device request granted.
type Stream interface {
	Tracks() []Track
}

// Devices acquires capture inputs. Display and microphone are requested and
// revoked independently.
type Devices interface {
	// RequestDisplay returns the screen video plus optional system audio.
	RequestDisplay(ctx context.Context) (Stream, error)
	RequestMicrophone(ctx context.Context) (Stream, error)
}

// Recorder is a running encoder.
type Recorder interface {
	// Flush returns output produced since the previous flush.
	Flush() ([]byte, error)
	// Stop finalizes encoding and returns any output not yet flushed.
	Stop(ctx context.Context) ([]byte, error)
}

// Encoder turns a set of tracks into one encoded stream.
type Encoder interface {
	Supports(mimeType string) bool
	Start(ctx context.Context, tracks []Track, mimeType string) (Recorder, error)
}

type trackStream []Track

func (s trackStream) Tracks() []Track { return s }

// NewStream wraps tracks as a Stream.
func NewStream(tracks ...Track) Stream {
	return trackStream(tracks)
}
