package capture_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"flux/internal/capture"
	"flux/internal/fault"
)

type fakeTrack struct {
	kind  capture.TrackKind
	label string

	mu    sync.Mutex
	stops int
}

func (t *fakeTrack) Kind() capture.TrackKind { return t.kind }
func (t *fakeTrack) Label() string           { return t.label }
func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
}

func (t *fakeTrack) released() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops > 0
}

type fakeDevices struct {
	displayErr error
	micErr     error
	video      *fakeTrack
	system     *fakeTrack
	mic        *fakeTrack
	micAsked   bool
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{
		video:  &fakeTrack{kind: capture.TrackVideo, label: "screen"},
		system: &fakeTrack{kind: capture.TrackAudio, label: "system"},
		mic:    &fakeTrack{kind: capture.TrackAudio, label: "mic"},
	}
}

func (d *fakeDevices) RequestDisplay(context.Context) (capture.Stream, error) {
	if d.displayErr != nil {
		return nil, d.displayErr
	}
	return capture.NewStream(d.video, d.system), nil
}

func (d *fakeDevices) RequestMicrophone(context.Context) (capture.Stream, error) {
	d.micAsked = true
	if d.micErr != nil {
		return nil, d.micErr
	}
	return capture.NewStream(d.mic), nil
}

func (d *fakeDevices) all() []*fakeTrack { return []*fakeTrack{d.video, d.system, d.mic} }

type fakeRecorder struct {
	mu      sync.Mutex
	pending [][]byte
	tail    []byte
	stops   int
}

func (r *fakeRecorder) Flush() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return nil, nil
	}
	next := r.pending[0]
	r.pending = r.pending[1:]
	return next, nil
}

func (r *fakeRecorder) Stop(context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	var rest []byte
	for _, p := range r.pending {
		rest = append(rest, p...)
	}
	r.pending = nil
	return append(rest, r.tail...), nil
}

type fakeEncoder struct {
	supports bool
	startErr error
	recorder *fakeRecorder
	gotMIME  string
	gotCount int
}

func (e *fakeEncoder) Supports(string) bool { return e.supports }

func (e *fakeEncoder) Start(_ context.Context, tracks []capture.Track, mimeType string) (capture.Recorder, error) {
	if e.startErr != nil {
		return nil, e.startErr
	}
	e.gotMIME = mimeType
	e.gotCount = len(tracks)
	return e.recorder, nil
}

func newFakeEncoder(chunks ...string) *fakeEncoder {
	rec := &fakeRecorder{tail: []byte("|tail")}
	for _, c := range chunks {
		rec.pending = append(rec.pending, []byte(c))
	}
	return &fakeEncoder{supports: true, recorder: rec}
}

func TestSessionStartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	devices := newFakeDevices()
	encoder := newFakeEncoder("a", "b", "c")
	session := capture.NewSession(devices, encoder, nil, capture.WithFlushInterval(5*time.Millisecond))

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if session.State() != capture.StateCapturing {
		t.Fatalf("state = %s", session.State())
	}
	if encoder.gotCount != 3 {
		t.Fatalf("encoder got %d tracks, want 3", encoder.gotCount)
	}
	if encoder.gotMIME != "video/webm;codecs=vp9,opus" {
		t.Fatalf("mime = %q", encoder.gotMIME)
	}

	payload, err := session.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if string(payload.Data) != "abc|tail" {
		t.Fatalf("payload = %q", payload.Data)
	}
	if payload.MIMEType != "video/webm" {
		t.Fatalf("payload mime = %q", payload.MIMEType)
	}
	for _, track := range devices.all() {
		if !track.released() {
			t.Fatalf("track %s not released", track.label)
		}
	}
	if _, ok := <-session.Elapsed(); ok {
		t.Fatal("elapsed channel still open after stop")
	}

	again, err := session.Stop(context.Background())
	if err != nil || string(again.Data) != string(payload.Data) {
		t.Fatalf("second Stop = %q, %v", again.Data, err)
	}
	if encoder.recorder.stops != 1 {
		t.Fatalf("recorder stopped %d times", encoder.recorder.stops)
	}
	if err := session.Start(context.Background()); !errors.Is(err, capture.ErrSessionFinished) {
		t.Fatalf("restart: expected ErrSessionFinished, got %v", err)
	}
}

func TestSessionDisplayDenied(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	devices := newFakeDevices()
	devices.displayErr = errors.New("permission denied")
	session := capture.NewSession(devices, newFakeEncoder(), nil)

	err := session.Start(context.Background())
	if !errors.Is(err, fault.ErrCaptureDenied) {
		t.Fatalf("expected ErrCaptureDenied, got %v", err)
	}
	if session.State() != capture.StateStopped {
		t.Fatalf("state = %s", session.State())
	}
	if devices.micAsked {
		t.Fatal("microphone requested after display refusal")
	}
	if _, ok := <-session.Elapsed(); ok {
		t.Fatal("elapsed channel open after denial")
	}
}

func TestSessionMicrophoneUnavailable(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	devices := newFakeDevices()
	devices.micErr = errors.New("no such source")
	encoder := newFakeEncoder("x")
	session := capture.NewSession(devices, encoder, nil)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if encoder.gotCount != 2 {
		t.Fatalf("encoder got %d tracks, want 2", encoder.gotCount)
	}
	if !session.Stats().MicrophoneMissing {
		t.Fatal("stats should report the missing microphone")
	}
	if _, err := session.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSessionFallsBackToPlainWebM(t *testing.T) {
	encoder := newFakeEncoder()
	encoder.supports = false
	session := capture.NewSession(newFakeDevices(), encoder, nil)
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer session.Close()
	if encoder.gotMIME != "video/webm" {
		t.Fatalf("mime = %q, want video/webm", encoder.gotMIME)
	}
}

func TestSessionEncoderFailureReleasesTracks(t *testing.T) {
	devices := newFakeDevices()
	encoder := newFakeEncoder()
	encoder.startErr = errors.New("no encoder")
	session := capture.NewSession(devices, encoder, nil)

	if err := session.Start(context.Background()); !errors.Is(err, fault.ErrCaptureDenied) {
		t.Fatalf("expected ErrCaptureDenied, got %v", err)
	}
	for _, track := range devices.all() {
		if !track.released() {
			t.Fatalf("track %s not released", track.label)
		}
	}
}

func TestSessionCloseReleasesEverything(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	devices := newFakeDevices()
	encoder := newFakeEncoder("a")
	session := capture.NewSession(devices, encoder, nil)
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	session.Close()
	session.Close()

	if session.State() != capture.StateStopped {
		t.Fatalf("state = %s", session.State())
	}
	for _, track := range devices.all() {
		if !track.released() {
			t.Fatalf("track %s not released", track.label)
		}
	}
	if encoder.recorder.stops != 1 {
		t.Fatalf("recorder stopped %d times, want 1", encoder.recorder.stops)
	}
	if _, err := session.Stop(context.Background()); !errors.Is(err, capture.ErrSessionFinished) {
		t.Fatalf("Stop after Close: expected ErrSessionFinished, got %v", err)
	}
}

func TestSessionCloseBeforeStart(t *testing.T) {
	session := capture.NewSession(newFakeDevices(), newFakeEncoder(), nil)
	session.Close()
	if err := session.Start(context.Background()); !errors.Is(err, capture.ErrSessionFinished) {
		t.Fatalf("expected ErrSessionFinished, got %v", err)
	}
}

func TestSessionElapsedTicks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	session := capture.NewSession(newFakeDevices(), newFakeEncoder(), nil, capture.WithTickInterval(5*time.Millisecond))
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case d, ok := <-session.Elapsed():
		if !ok || d <= 0 {
			t.Fatalf("unexpected tick %v ok=%v", d, ok)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no elapsed tick")
	}
	if _, err := session.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	for range session.Elapsed() {
	}
}

func TestSessionStatsCountsChunks(t *testing.T) {
	session := capture.NewSession(newFakeDevices(), newFakeEncoder("aa", "bbb"), nil, capture.WithFlushInterval(2*time.Millisecond))
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for session.Stats().Chunks < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	stats := session.Stats()
	if stats.Chunks != 2 || stats.Bytes != 5 {
		t.Fatalf("stats = %+v", stats)
	}
	if _, err := session.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSessionStopBeforeStart(t *testing.T) {
	session := capture.NewSession(newFakeDevices(), newFakeEncoder(), nil)
	if _, err := session.Stop(context.Background()); !errors.Is(err, fault.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

// slowDisplay blocks until its request is cancelled and then still hands
// back the display tracks, as a permission prompt answered late would.
type slowDisplay struct {
	*fakeDevices
	entered chan struct{}
}

func (d *slowDisplay) RequestDisplay(ctx context.Context) (capture.Stream, error) {
	close(d.entered)
	<-ctx.Done()
	return capture.NewStream(d.video, d.system), nil
}

func TestSessionCloseWhileAwaitingPermission(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	devices := &slowDisplay{fakeDevices: newFakeDevices(), entered: make(chan struct{})}
	encoder := newFakeEncoder()
	session := capture.NewSession(devices, encoder, nil)

	started := make(chan error, 1)
	go func() { started <- session.Start(context.Background()) }()
	<-devices.entered
	if got := session.State(); got != capture.StateAwaitingPermission {
		t.Fatalf("state = %s, want awaiting_permission", got)
	}

	session.Close()

	if !devices.video.released() || !devices.system.released() {
		t.Fatal("display tracks still held after Close returned")
	}
	if devices.micAsked {
		t.Fatal("microphone requested after Close")
	}
	if encoder.gotCount != 0 {
		t.Fatal("encoder started after Close")
	}
	if err := <-started; err == nil {
		t.Fatal("Start succeeded on a closed session")
	}
	if session.State() != capture.StateStopped {
		t.Fatalf("state = %s, want stopped", session.State())
	}
}
