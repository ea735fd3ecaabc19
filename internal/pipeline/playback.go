package pipeline

import (
	"context"
	"errors"

	"flux/internal/catalog"
	"flux/internal/fault"
	"flux/internal/logging"
	"flux/internal/vault"
)

type viewResult struct {
	rec    catalog.Recording
	handle *vault.Handle
}

func (v *viewResult) release() {
	if v != nil && v.handle != nil {
		_ = v.handle.Release()
	}
}

// enterView materializes the playable file for a just-saved recording and
// counts one view. Failures are logged and do not block Viewing.
func (o *Orchestrator) enterView(ctx context.Context, rec catalog.Recording) *viewResult {
	view := &viewResult{rec: rec}
	handle, err := o.deps.Vault.Materialize(ctx, rec.ID)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, o.logger), "playable file unavailable", "handle_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "recording saved but cannot be played from this session"),
		)
	} else {
		view.handle = handle
	}
	o.countView(ctx, view)
	return view
}

func (o *Orchestrator) countView(ctx context.Context, view *viewResult) {
	found, err := o.deps.Catalog.IncrementViews(ctx, view.rec.ID)
	switch {
	case err != nil:
		logging.WarnWithContext(logging.WithContext(ctx, o.logger), "view not counted", "analytics_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "view count is one lower than actual"),
		)
	case found:
		view.rec.Views++
		o.deps.Metrics.ObserveView()
	}
}

// Open moves from Idle to Viewing when both stores resolve id. Otherwise the
// pipeline stays Idle and the error carries fault.ErrRecordNotFound.
func (o *Orchestrator) Open(ctx context.Context, id string) error {
	o.mu.Lock()
	if err := o.guardLocked(EventOpen, PhaseIdle); err != nil {
		o.mu.Unlock()
		return err
	}
	opCtx, op := o.beginLocked(fault.WithRecordingID(ctx, id), PhaseViewing)
	o.mu.Unlock()

	view, err := o.resolve(opCtx, id)

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.endLocked(op) {
		view.release()
		return context.Canceled
	}
	if err != nil {
		o.deps.Metrics.ObserveFailure(err)
		if errors.Is(err, fault.ErrRecordNotFound) {
			logging.WarnWithContext(logging.WithContext(opCtx, o.logger), "recording not found; staying idle", "record_not_found",
				logging.Error(err),
				logging.String(logging.FieldErrorKind, fault.Kind(err)),
				logging.String(logging.FieldImpact, "navigation returned to the start screen"),
			)
		}
		return err
	}
	next, err := transition(o.state, Event{Kind: EventOpen, Recording: view.rec, Handle: view.handle})
	if err != nil {
		view.release()
		return err
	}
	o.setLocked(next)
	return nil
}

// resolve checks both stores. A catalog entry without a blob is not found.
func (o *Orchestrator) resolve(ctx context.Context, id string) (*viewResult, error) {
	rec, ok, err := o.deps.Catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.Wrap(fault.ErrRecordNotFound, "pipeline", "open", "no catalog entry for "+id, nil)
	}
	handle, err := o.deps.Vault.Materialize(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &viewResult{rec: rec, handle: handle}
	o.countView(ctx, view)
	return view, nil
}

// Navigate applies a route. Watch routes open the recording, leaving any
// current view first; unknown routes and unresolvable IDs end in Idle without
// an error. Only cancellation, busy pipelines, and store failures are returned.
func (o *Orchestrator) Navigate(ctx context.Context, route string) (Snapshot, error) {
	if o.State().Phase == PhaseViewing {
		if err := o.Reset(ctx); err != nil && !errors.Is(err, fault.ErrInvalidTransition) {
			return o.State(), err
		}
	}
	id, ok := ParseRoute(route)
	if !ok {
		if o.State().Phase != PhaseIdle {
			return o.State(), fault.Wrap(fault.ErrInvalidTransition, "pipeline", "navigate", "pipeline is busy", nil)
		}
		o.logger.Debug("unknown route; staying idle", logging.String("route", route))
		return o.State(), nil
	}
	err := o.Open(ctx, id)
	if errors.Is(err, fault.ErrRecordNotFound) {
		err = nil
	}
	return o.State(), err
}

// ReportProgress records playback completion for the recording being viewed.
// Values at or below the start-of-watch threshold are ignored.
func (o *Orchestrator) ReportProgress(ctx context.Context, percent float64) error {
	o.mu.Lock()
	if o.state.Phase != PhaseViewing || o.state.Recording == nil {
		o.mu.Unlock()
		return fault.Wrap(fault.ErrInvalidTransition, "pipeline", "progress", "not viewing", nil)
	}
	id := o.state.Recording.ID
	o.mu.Unlock()

	if percent <= o.settings.CompletionThreshold {
		return nil
	}
	found, err := o.deps.Catalog.RecordCompletion(ctx, id, percent)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	o.deps.Metrics.ObserveCompletion()

	clamped := catalog.ClampPercent(percent)
	o.mu.Lock()
	if o.state.Recording != nil && o.state.Recording.ID == id && clamped > o.state.Recording.CompletionRate {
		o.state.Recording.CompletionRate = clamped
	}
	o.mu.Unlock()
	return nil
}

// Reset leaves Viewing for Idle, releasing the playable file first.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.guardLocked(EventReset, PhaseViewing); err != nil {
		return err
	}
	var releaseErr error
	if o.state.Handle != nil {
		releaseErr = o.state.Handle.Release()
	}
	next, err := transition(o.state, Event{Kind: EventReset})
	if err != nil {
		return err
	}
	o.setLocked(next)
	if releaseErr != nil {
		logging.WithContext(ctx, o.logger).Debug("handle release failed", logging.Error(releaseErr))
	}
	return nil
}
