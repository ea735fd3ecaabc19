package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"flux/internal/capture"
	"flux/internal/catalog"
	"flux/internal/config"
	"flux/internal/fault"
	"flux/internal/logging"
	"flux/internal/media"
	"flux/internal/metrics"
	"flux/internal/trim"
	"flux/internal/vault"
)

// Advisory messages shown when a requested trim is not applied.
const (
	AdvisoryTrimUnsupported = "precise trimming unavailable; saved the full recording"
	AdvisoryTrimFailed      = "trim failed; saved the full recording"
)

// CaptureSession is the part of capture.Session the orchestrator drives.
type CaptureSession interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (media.Payload, error)
	Close()
	Elapsed() <-chan time.Duration
	Stats() capture.Stats
}

// BlobStore is the vault as seen by the orchestrator.
type BlobStore interface {
	PutBlob(ctx context.Context, id string, payload media.Payload) error
	Materialize(ctx context.Context, id string) (*vault.Handle, error)
}

// Catalog is the metadata store as seen by the orchestrator.
type Catalog interface {
	Get(ctx context.Context, id string) (catalog.Recording, bool, error)
	Upsert(ctx context.Context, rec catalog.Recording) error
	IncrementViews(ctx context.Context, id string) (bool, error)
	RecordCompletion(ctx context.Context, id string, percent float64) (bool, error)
}

// Capability reports whether precise trimming may be attempted.
type Capability interface {
	Check() error
}

// DurationProbe returns the payload duration in seconds, or 0 when unknown.
type DurationProbe func(ctx context.Context, payload media.Payload) float64

// Deps are the collaborators an Orchestrator needs. Vault, Catalog, and
// Sessions are required; everything else has a usable default.
type Deps struct {
	Sessions   func() CaptureSession
	Vault      BlobStore
	Catalog    Catalog
	Precise    trim.Trimmer
	Heuristic  trim.Trimmer
	Capability Capability
	Probe      DurationProbe
	Metrics    *metrics.Recorder
	Observer   Observer
	Logger     *slog.Logger
	Now        func() time.Time
	NewID      func() string
}

// Settings tune orchestrator behaviour.
type Settings struct {
	Mode                string
	ProgressStep        int
	ProgressInterval    time.Duration
	CompletionThreshold float64
	MinTrimWindow       float64
}

// SettingsFromConfig extracts Settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Mode:                cfg.Trim.Mode,
		ProgressStep:        cfg.Pipeline.ProgressStep,
		ProgressInterval:    cfg.ProgressInterval(),
		CompletionThreshold: cfg.Pipeline.CompletionThreshold,
		MinTrimWindow:       cfg.Pipeline.MinTrimWindow,
	}
}

// Snapshot is a read-only view of the orchestrator.
type Snapshot struct {
	Phase        Phase
	Elapsed      time.Duration
	Recording    *catalog.Recording
	HandlePath   string
	Advisory     string
	PayloadBytes int64
	// RetryPending is true after a failed save whose payload can be retried.
	RetryPending bool
}

// Orchestrator owns the pipeline state.
type Orchestrator struct {
	deps     Deps
	settings Settings
	logger   *slog.Logger
	observer Observer

	mu       sync.Mutex
	state    State
	elapsed  time.Duration
	busy     bool
	op       uint64
	cancel   context.CancelFunc
	inflight CaptureSession
	wg       sync.WaitGroup
}

// New builds an idle orchestrator.
func New(settings Settings, deps Deps) *Orchestrator {
	if deps.Heuristic == nil {
		deps.Heuristic = trim.Heuristic{}
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = NewRecordingID
	}
	if deps.Probe == nil {
		deps.Probe = func(context.Context, media.Payload) float64 { return 0 }
	}
	if settings.ProgressStep <= 0 || settings.ProgressStep > 100 {
		settings.ProgressStep = 100
	}
	if strings.TrimSpace(settings.Mode) == "" {
		settings.Mode = config.TrimModePrecise
	}
	return &Orchestrator{
		deps:     deps,
		settings: settings,
		logger:   logging.NewComponentLogger(deps.Logger, "pipeline"),
		observer: deps.Observer,
		state:    State{Phase: PhaseIdle},
	}
}

// NewRecordingID returns a random 32-character hex identifier.
func NewRecordingID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Title returns the display title for a recording finalized at t.
func Title(t time.Time) string {
	return "Flux Session — " + t.Local().Format("15:04")
}

// State returns a snapshot of the current state.
func (o *Orchestrator) State() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	snap := Snapshot{
		Phase:        o.state.Phase,
		Elapsed:      o.elapsed,
		Advisory:     o.state.Advisory,
		PayloadBytes: o.state.Raw.Size(),
		RetryPending: o.state.Pending != nil,
	}
	if o.state.Recording != nil {
		rec := *o.state.Recording
		snap.Recording = &rec
	}
	if o.state.Handle != nil {
		snap.HandlePath = o.state.Handle.Path()
	}
	return snap
}

// StartCapture begins a new recording. A refused display returns
// fault.ErrCaptureDenied and leaves the pipeline idle.
func (o *Orchestrator) StartCapture(ctx context.Context) error {
	o.mu.Lock()
	if err := o.guardLocked(EventStart, PhaseIdle); err != nil {
		o.mu.Unlock()
		return err
	}
	session := o.deps.Sessions()
	opCtx, op := o.beginLocked(ctx, PhaseCapturing)
	o.inflight = session
	o.mu.Unlock()

	err := session.Start(opCtx)

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.endLocked(op) {
		session.Close()
		return context.Canceled
	}
	if err != nil {
		session.Close()
		o.deps.Metrics.ObserveFailure(err)
		if errors.Is(err, fault.ErrCaptureDenied) {
			logging.WarnWithContext(o.logger, "screen capture denied", "capture_denied",
				logging.Error(err),
				logging.String(logging.FieldErrorKind, fault.Kind(err)),
				logging.String(logging.FieldErrorHint, "grant screen access or check capture.display"),
				logging.String(logging.FieldImpact, "recording did not start"),
			)
		}
		return err
	}
	next, err := transition(o.state, Event{Kind: EventStart, Session: session})
	if err != nil {
		session.Close()
		return err
	}
	o.elapsed = 0
	o.setLocked(next)
	o.wg.Add(1)
	go o.forwardElapsed(session)
	return nil
}

// FinishCapture stops the session and moves to Editing with the raw payload.
func (o *Orchestrator) FinishCapture(ctx context.Context) error {
	o.mu.Lock()
	if err := o.guardLocked(EventFinish, PhaseCapturing); err != nil {
		o.mu.Unlock()
		return err
	}
	session := o.state.Session
	opCtx, op := o.beginLocked(ctx, PhaseCapturing)
	o.mu.Unlock()

	payload, stopErr := session.Stop(opCtx)
	duration := 0.0
	if !payload.Empty() {
		duration = o.deps.Probe(opCtx, payload)
		if duration <= 0 {
			duration = session.Stats().Elapsed.Seconds()
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.endLocked(op) {
		return context.Canceled
	}
	if stopErr != nil {
		if payload.Empty() {
			session.Close()
			o.setLocked(State{Phase: PhaseIdle})
			return stopErr
		}
		o.logger.Warn("recording finalized with errors",
			logging.Error(stopErr),
			logging.String(logging.FieldEventType, "capture_stop_degraded"),
			logging.String(logging.FieldErrorHint, "check the ffmpeg encoder output"),
			logging.String(logging.FieldImpact, "recording may be truncated"),
		)
	}
	next, err := transition(o.state, Event{Kind: EventFinish, Payload: payload, Duration: duration})
	if err != nil {
		return err
	}
	o.setLocked(next)
	o.logger.Info("recording ready for editing",
		logging.Int64("bytes", payload.Size()),
		logging.Float64("duration", duration),
	)
	return nil
}

// Import moves an existing payload straight into Editing without capturing.
// Duration 0 means it is probed.
func (o *Orchestrator) Import(ctx context.Context, payload media.Payload, duration float64) error {
	if duration <= 0 {
		duration = o.deps.Probe(ctx, payload)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.guardLocked(EventImport, PhaseIdle); err != nil {
		return err
	}
	next, err := transition(o.state, Event{Kind: EventImport, Payload: payload, Duration: duration})
	if err != nil {
		return err
	}
	o.setLocked(next)
	return nil
}

// Cancel returns to Idle from any phase. In-flight work is cancelled, the
// capture session is closed, and the playable handle is released before Cancel
// returns.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.mu.Lock()
	prev := o.state
	inflight := o.inflight
	if o.cancel != nil {
		o.cancel()
	}
	o.op++
	o.busy = false
	o.cancel = nil
	o.inflight = nil
	next, _ := transition(o.state, Event{Kind: EventCancel})
	o.setLocked(next)
	o.mu.Unlock()

	if inflight != nil {
		inflight.Close()
	}
	if prev.Session != nil {
		prev.Session.Close()
	}
	var err error
	if prev.Handle != nil {
		err = prev.Handle.Release()
	}
	logging.WithContext(ctx, o.logger).Info("pipeline cancelled", logging.String("from", string(prev.Phase)))
	return err
}

// Close cancels any work and waits for background goroutines.
func (o *Orchestrator) Close() error {
	err := o.Cancel(context.Background())
	o.wg.Wait()
	return err
}

func (o *Orchestrator) guardLocked(kind EventKind, allowed ...Phase) error {
	if o.busy {
		return fault.Wrap(fault.ErrInvalidTransition, "pipeline", string(kind), "another operation is in progress", nil)
	}
	for _, phase := range allowed {
		if o.state.Phase == phase {
			return nil
		}
	}
	return fault.Wrap(fault.ErrInvalidTransition, "pipeline", string(kind), "not allowed from "+string(o.state.Phase), nil)
}

// beginLocked marks an operation in flight and returns its context and token.
func (o *Orchestrator) beginLocked(ctx context.Context, phase Phase) (context.Context, uint64) {
	opCtx, cancel := context.WithCancel(fault.WithPhase(ctx, string(phase)))
	o.op++
	o.busy = true
	o.cancel = cancel
	return opCtx, o.op
}

// endLocked clears the in-flight marker. It reports false when Cancel ran
// after beginLocked issued op.
func (o *Orchestrator) endLocked(op uint64) bool {
	if op != o.op {
		return false
	}
	if o.cancel != nil {
		o.cancel()
	}
	o.busy = false
	o.cancel = nil
	o.inflight = nil
	return true
}

func (o *Orchestrator) setLocked(next State) {
	changed := next.Phase != o.state.Phase
	o.state = next
	if changed {
		o.logger.Debug("phase changed", logging.String(logging.FieldPhase, string(next.Phase)))
		o.observer.OnPhase(next.Phase)
	}
}

func (o *Orchestrator) forwardElapsed(session CaptureSession) {
	defer o.wg.Done()
	for elapsed := range session.Elapsed() {
		o.mu.Lock()
		if o.state.Session == session {
			o.elapsed = elapsed
		}
		o.mu.Unlock()
		o.observer.OnElapsed(elapsed)
	}
}
