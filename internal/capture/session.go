package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"flux/internal/fault"
	"flux/internal/logging"
	"flux/internal/media"
)

// State is the lifecycle position of a Session.
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingPermission State = "awaiting_permission"
	StateCapturing          State = "capturing"
	StateStopped            State = "stopped"
)

// ErrSessionFinished is returned when a stopped session is started again.
var ErrSessionFinished = errors.New("capture session finished")

const (
	defaultFlushInterval = time.Second
	defaultTickInterval  = time.Second
	closeTimeout         = 5 * time.Second
)

// Stats describes a session's buffered output.
type Stats struct {
	Bytes   int64
	Chunks  int
	Elapsed time.Duration
	// MicrophoneMissing is true when the recording proceeds without the microphone.
	MicrophoneMissing bool
}

// Session records one capture. It cannot be restarted once stopped.
type Session struct {
	devices    Devices
	encoder    Encoder
	preferred  string
	flushEvery time.Duration
	tickEvery  time.Duration
	logger     *slog.Logger

	mu        sync.Mutex
	state     State
	tracks    []Track
	recorder  Recorder
	mimeType  string
	chunks    [][]byte
	size      int64
	startedAt time.Time
	stoppedAt time.Time
	micErr    error
	payload   *media.Payload
	stopErr   error

	// starting is closed once Start has finished acquiring or releasing
	// devices; stopStart cancels that acquisition.
	starting  chan struct{}
	stopStart context.CancelFunc

	done        chan struct{}
	elapsed     chan time.Duration
	elapsedOnce sync.Once
	wg          sync.WaitGroup
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithFlushInterval sets how often encoder output is moved into the chunk list.
func WithFlushInterval(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.flushEvery = d
		}
	}
}

// WithTickInterval sets the elapsed-time reporting period.
func WithTickInterval(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.tickEvery = d
		}
	}
}

// WithPreferredMIME sets the container/codec pair tried first.
func WithPreferredMIME(mimeType string) SessionOption {
	return func(s *Session) {
		if mimeType != "" {
			s.preferred = mimeType
		}
	}
}

// NewSession builds an idle session.
func NewSession(devices Devices, encoder Encoder, logger *slog.Logger, opts ...SessionOption) *Session {
	s := &Session{
		devices:    devices,
		encoder:    encoder,
		preferred:  media.MIMEWebM + ";codecs=vp9,opus",
		flushEvery: defaultFlushInterval,
		tickEvery:  defaultTickInterval,
		logger:     logging.NewComponentLogger(logger, "capture"),
		state:      StateIdle,
		done:       make(chan struct{}),
		elapsed:    make(chan time.Duration, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed delivers the running duration about once per tick while capturing.
// The channel is closed when the session stops.
func (s *Session) Elapsed() <-chan time.Duration {
	return s.elapsed
}

// Stats reports buffered size, chunk count, and elapsed time.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := Stats{Bytes: s.size, Chunks: len(s.chunks), MicrophoneMissing: s.micErr != nil}
	switch {
	case s.startedAt.IsZero():
	case s.stoppedAt.IsZero():
		stats.Elapsed = time.Since(s.startedAt)
	default:
		stats.Elapsed = s.stoppedAt.Sub(s.startedAt)
	}
	return stats
}

// MIMEType returns the media type chosen when the session started.
func (s *Session) MIMEType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mimeType
}

// Start acquires devices and begins encoding. A refused display yields
// fault.ErrCaptureDenied and leaves the session stopped with nothing held. A
// refused microphone is logged and recording continues without it.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
	case StateStopped:
		s.mu.Unlock()
		return ErrSessionFinished
	default:
		state := s.state
		s.mu.Unlock()
		return fault.Wrap(fault.ErrInvalidTransition, "capture", "start", fmt.Sprintf("session is %s", state), nil)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	starting := make(chan struct{})
	defer close(starting)
	s.state = StateAwaitingPermission
	s.starting = starting
	s.stopStart = cancel
	s.mu.Unlock()

	display, err := s.devices.RequestDisplay(ctx)
	if err != nil {
		s.abort(nil)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fault.Wrap(fault.ErrCaptureDenied, "capture", "request display", "", err)
	}
	tracks := append([]Track(nil), display.Tracks()...)
	if s.State() != StateAwaitingPermission {
		releaseTracks(tracks)
		return ErrSessionFinished
	}

	var micErr error
	mic, err := s.devices.RequestMicrophone(ctx)
	if err != nil {
		micErr = fault.Wrap(fault.ErrMicUnavailable, "capture", "request microphone", "", err)
		logging.WarnWithContext(s.logger, "microphone unavailable; recording without it", "mic_unavailable",
			logging.Error(micErr),
			logging.String(logging.FieldErrorKind, fault.Kind(micErr)),
			logging.String(logging.FieldErrorHint, "check the capture.microphone source or PulseAudio permissions"),
			logging.String(logging.FieldImpact, "recording has system audio only"),
		)
	} else {
		tracks = append(tracks, mic.Tracks()...)
	}

	mimeType := media.MIMEWebM
	if s.encoder.Supports(s.preferred) {
		mimeType = s.preferred
	}
	recorder, err := s.encoder.Start(ctx, tracks, mimeType)
	if err != nil {
		s.abort(tracks)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fault.Wrap(fault.ErrCaptureDenied, "capture", "start encoder", "", err)
	}

	s.mu.Lock()
	if s.state != StateAwaitingPermission {
		// Closed while waiting on devices.
		s.mu.Unlock()
		_, _ = recorder.Stop(context.Background())
		releaseTracks(tracks)
		return ErrSessionFinished
	}
	s.state = StateCapturing
	s.tracks = tracks
	s.recorder = recorder
	s.mimeType = mimeType
	s.micErr = micErr
	s.startedAt = time.Now()
	s.wg.Add(1)
	go s.run(recorder, s.startedAt)
	s.mu.Unlock()

	s.logger.Info("capture started",
		logging.Int("tracks", len(tracks)),
		logging.String("mime_type", mimeType),
		logging.Bool("microphone", micErr == nil),
	)
	return nil
}

// Stop finalizes the recording and returns the payload. Device tracks are
// released on every path. Calling Stop again returns the same payload.
func (s *Session) Stop(ctx context.Context) (media.Payload, error) {
	s.mu.Lock()
	switch s.state {
	case StateCapturing:
	case StateStopped:
		defer s.mu.Unlock()
		if s.payload != nil {
			return *s.payload, s.stopErr
		}
		if s.stopErr != nil {
			return media.Payload{}, s.stopErr
		}
		return media.Payload{}, ErrSessionFinished
	default:
		state := s.state
		s.mu.Unlock()
		return media.Payload{}, fault.Wrap(fault.ErrInvalidTransition, "capture", "stop", fmt.Sprintf("session is %s", state), nil)
	}
	s.state = StateStopped
	s.stoppedAt = time.Now()
	close(s.done)
	recorder := s.recorder
	tracks := s.tracks
	s.tracks = nil
	s.mu.Unlock()

	s.wg.Wait()
	tail, stopErr := recorder.Stop(ctx)
	releaseTracks(tracks)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(tail)
	if stopErr != nil {
		s.stopErr = fmt.Errorf("finalize recording: %w", stopErr)
	}
	var buf bytes.Buffer
	buf.Grow(int(s.size))
	for _, chunk := range s.chunks {
		buf.Write(chunk)
	}
	payload := media.Payload{Data: buf.Bytes(), MIMEType: media.BaseMIME(s.mimeType)}
	s.payload = &payload
	s.logger.Info("capture stopped",
		logging.Int64("bytes", payload.Size()),
		logging.Int("chunks", len(s.chunks)),
		logging.Duration("elapsed", s.stoppedAt.Sub(s.startedAt)),
	)
	return payload, s.stopErr
}

// Close releases every held resource without producing a payload. It is safe
// in any state and idempotent. When Start is still acquiring devices, Close
// cancels it and returns only after every track it obtained is stopped.
func (s *Session) Close() {
	s.mu.Lock()
	switch s.state {
	case StateCapturing:
		s.state = StateStopped
		s.stoppedAt = time.Now()
		close(s.done)
		recorder := s.recorder
		tracks := s.tracks
		s.tracks = nil
		s.mu.Unlock()

		s.wg.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if _, err := recorder.Stop(ctx); err != nil {
			s.logger.Debug("encoder stop during close", logging.Error(err))
		}
		releaseTracks(tracks)
		s.logger.Info("capture closed")
		return
	case StateStopped:
		s.mu.Unlock()
		return
	default:
		s.state = StateStopped
		starting, stopStart := s.starting, s.stopStart
		s.mu.Unlock()
		if stopStart != nil {
			stopStart()
			<-starting
		}
		s.closeElapsed()
	}
}

// abort returns a session that failed during Start to Stopped.
func (s *Session) abort(tracks []Track) {
	releaseTracks(tracks)
	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.closeElapsed()
}

func (s *Session) run(recorder Recorder, started time.Time) {
	defer s.wg.Done()
	defer s.closeElapsed()

	flush := time.NewTicker(s.flushEvery)
	defer flush.Stop()
	tick := time.NewTicker(s.tickEvery)
	defer tick.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-flush.C:
			data, err := recorder.Flush()
			if err != nil {
				s.logger.Debug("encoder flush failed", logging.Error(err))
				continue
			}
			s.mu.Lock()
			s.appendLocked(data)
			s.mu.Unlock()
		case <-tick.C:
			elapsed := time.Since(started)
			select {
			case s.elapsed <- elapsed:
			default:
				// Replace a value nobody read with the newer one.
				select {
				case <-s.elapsed:
				default:
				}
				select {
				case s.elapsed <- elapsed:
				default:
				}
			}
		}
	}
}

func (s *Session) appendLocked(data []byte) {
	if len(data) == 0 {
		return
	}
	s.chunks = append(s.chunks, data)
	s.size += int64(len(data))
}

func (s *Session) closeElapsed() {
	s.elapsedOnce.Do(func() { close(s.elapsed) })
}

func releaseTracks(tracks []Track) {
	for _, track := range tracks {
		if track != nil {
			track.Stop()
		}
	}
}
