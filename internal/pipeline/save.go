package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"flux/internal/catalog"
	"flux/internal/config"
	"flux/internal/fault"
	"flux/internal/logging"
	"flux/internal/media"
)

// Save trims the raw payload according to req and the fallback policy, then
// persists it and moves to Viewing. On a store failure the pipeline returns
// to Editing with the final payload kept for RetrySave. The returned recording
// matches the stored entry, including the initial view.
func (o *Orchestrator) Save(ctx context.Context, req SaveRequest) (catalog.Recording, error) {
	return o.save(ctx, req, false)
}

// RetrySave persists the payload kept by the last failed save without
// trimming again.
func (o *Orchestrator) RetrySave(ctx context.Context) (catalog.Recording, error) {
	return o.save(ctx, SaveRequest{}, true)
}

func (o *Orchestrator) save(ctx context.Context, req SaveRequest, retry bool) (catalog.Recording, error) {
	o.mu.Lock()
	if err := o.guardLocked(EventSave, PhaseEditing); err != nil {
		o.mu.Unlock()
		return catalog.Recording{}, err
	}
	current := o.state
	if retry && current.Pending == nil {
		o.mu.Unlock()
		return catalog.Recording{}, fault.Wrap(fault.ErrInvalidTransition, "pipeline", "retry", "no failed save to retry", nil)
	}
	if !retry {
		current.Pending = nil
	}
	duration := current.Duration
	if req.Duration > 0 {
		duration = req.Duration
	}
	if err := req.Validate(duration, o.settings.MinTrimWindow); err != nil {
		o.mu.Unlock()
		return catalog.Recording{}, err
	}
	next, err := transition(current, Event{Kind: EventSave})
	if err != nil {
		o.mu.Unlock()
		return catalog.Recording{}, err
	}
	opCtx, op := o.beginLocked(ctx, PhasePersisting)
	o.setLocked(next)
	o.mu.Unlock()

	started := o.deps.Now()
	var result trimResult
	if retry {
		result = trimResult{payload: *current.Pending, advisory: current.Advisory}
	} else {
		result, err = o.applyTrim(opCtx, current.Raw, req, duration)
		if err != nil {
			o.mu.Lock()
			defer o.mu.Unlock()
			if !o.endLocked(op) {
				return catalog.Recording{}, context.Canceled
			}
			o.setLocked(State{Phase: PhaseEditing, Raw: current.Raw, Duration: current.Duration})
			return catalog.Recording{}, err
		}
	}
	final, advisory := result.payload, result.advisory
	if advisory != "" {
		o.observer.OnAdvisory(advisory)
	}

	finalDuration := duration
	switch {
	case retry:
		finalDuration = current.PendingDuration
	case result.trimmed:
		finalDuration = req.End - req.Start
	}
	rec := catalog.Recording{
		ID:        o.deps.NewID(),
		Title:     Title(started),
		CreatedAt: started.UTC(),
		Duration:  finalDuration,
		Size:      final.Size(),
		MIMEType:  final.MIMEType,
	}
	persistErr := o.persist(fault.WithRecordingID(opCtx, rec.ID), rec, final)
	o.deps.Metrics.ObserveSave(persistErr, rec.Size, o.deps.Now().Sub(started))

	var view *viewResult
	if persistErr == nil {
		view = o.enterView(opCtx, rec)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.endLocked(op) {
		view.release()
		return catalog.Recording{}, context.Canceled
	}
	if persistErr != nil {
		next, _ := transition(o.state, Event{Kind: EventFail, Payload: final, Duration: finalDuration, Advisory: advisory})
		o.setLocked(next)
		logging.ErrorWithContext(o.logger, "save failed; payload kept for retry", "persistence_failed",
			logging.Error(persistErr),
			logging.String(logging.FieldErrorKind, fault.Kind(persistErr)),
			logging.String(logging.FieldErrorHint, "free disk space or check paths.data_dir permissions, then retry"),
		)
		return catalog.Recording{}, persistErr
	}
	next, err = transition(o.state, Event{Kind: EventDone, Recording: view.rec, Handle: view.handle, Advisory: advisory})
	if err != nil {
		view.release()
		return catalog.Recording{}, err
	}
	o.setLocked(next)
	o.logger.Info("recording saved",
		logging.String(logging.FieldRecordingID, rec.ID),
		logging.Int64("bytes", rec.Size),
		logging.String("mime_type", rec.MIMEType),
		logging.String("route", WatchRoute(rec.ID)),
	)
	return view.rec, nil
}

type trimResult struct {
	payload  media.Payload
	advisory string
	trimmed  bool
}

// applyTrim returns the payload to persist and an advisory when a requested
// trim was not applied. Only context cancellation is returned as an error.
func (o *Orchestrator) applyTrim(ctx context.Context, raw media.Payload, req SaveRequest, duration float64) (trimResult, error) {
	original := trimResult{payload: raw}
	if !req.HasRange() {
		return original, nil
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = o.settings.Mode
	}
	logger := logging.WithContext(ctx, o.logger)

	switch mode {
	case config.TrimModeNone:
		o.deps.Metrics.ObserveTrim(mode, "skipped")
		return original, nil

	case config.TrimModeHeuristic:
		out, err := o.deps.Heuristic.Trim(ctx, raw, req.Start, req.End, duration)
		if err != nil {
			return trimResult{}, err
		}
		o.deps.Metrics.ObserveTrim(mode, "applied")
		return trimResult{payload: out, trimmed: true}, nil
	}

	if o.deps.Capability == nil || o.deps.Precise == nil {
		o.deps.Metrics.ObserveTrim(config.TrimModePrecise, "unsupported")
		return trimResult{payload: raw, advisory: AdvisoryTrimUnsupported}, nil
	}
	if err := o.deps.Capability.Check(); err != nil {
		logging.WarnWithContext(logger, "precise trimming unavailable; keeping full recording", "trim_unsupported",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, fault.Kind(err)),
			logging.String(logging.FieldErrorHint, "run flux doctor to see what the precise engine is missing"),
			logging.String(logging.FieldImpact, "recording saved untrimmed"),
		)
		o.deps.Metrics.ObserveTrim(config.TrimModePrecise, "unsupported")
		return trimResult{payload: raw, advisory: AdvisoryTrimUnsupported}, nil
	}
	out, err := o.deps.Precise.Trim(ctx, raw, req.Start, req.End, duration)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return trimResult{}, ctxErr
		}
		if errors.Is(err, context.Canceled) {
			return trimResult{}, err
		}
		logging.WarnWithContext(logger, "precise trim failed; keeping full recording", "trim_fallback",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, fault.Kind(err)),
			logging.String(logging.FieldErrorHint, "check the trim engine with flux doctor"),
			logging.String(logging.FieldImpact, "recording saved untrimmed"),
		)
		o.deps.Metrics.ObserveTrim(config.TrimModePrecise, "fallback")
		o.deps.Metrics.ObserveFailure(err)
		return trimResult{payload: raw, advisory: AdvisoryTrimFailed}, nil
	}
	o.deps.Metrics.ObserveTrim(config.TrimModePrecise, "applied")
	return trimResult{payload: out, trimmed: true}, nil
}

// persist reports progress in fixed steps, writes the blob, then the catalog
// entry, and finishes progress at 100.
func (o *Orchestrator) persist(ctx context.Context, rec catalog.Recording, payload media.Payload) error {
	for pct := o.settings.ProgressStep; pct < 100; pct += o.settings.ProgressStep {
		o.observer.OnProgress(pct)
		if err := o.wait(ctx, o.settings.ProgressInterval); err != nil {
			return err
		}
	}
	if err := o.deps.Vault.PutBlob(ctx, rec.ID, payload); err != nil {
		return err
	}
	if err := o.deps.Catalog.Upsert(ctx, rec); err != nil {
		return err
	}
	o.observer.OnProgress(100)
	return nil
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
