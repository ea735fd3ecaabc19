package pipeline

import (
	"fmt"

	"flux/internal/catalog"
	"flux/internal/fault"
	"flux/internal/media"
	"flux/internal/vault"
)

// Phase names a pipeline state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseCapturing  Phase = "capturing"
	PhaseEditing    Phase = "editing"
	PhasePersisting Phase = "persisting"
	PhaseViewing    Phase = "viewing"
)

// EventKind names a pipeline input.
type EventKind string

const (
	EventStart  EventKind = "start"
	EventFinish EventKind = "finish"
	EventImport EventKind = "import"
	EventSave   EventKind = "save"
	EventDone   EventKind = "done"
	EventFail   EventKind = "fail"
	EventOpen   EventKind = "open"
	EventReset  EventKind = "reset"
	EventCancel EventKind = "cancel"
)

// Event is an input to transition together with the data the next phase needs.
type Event struct {
	Kind      EventKind
	Session   CaptureSession
	Payload   media.Payload
	Duration  float64
	Recording catalog.Recording
	Handle    *vault.Handle
	Advisory  string
}

// State is the phase plus the data that phase owns.
type State struct {
	Phase Phase

	// Capturing
	Session CaptureSession

	// Editing and Persisting
	Raw      media.Payload
	Duration float64
	// Pending is the final payload of a failed save, kept for RetrySave.
	Pending         *media.Payload
	PendingDuration float64

	// Viewing
	Recording *catalog.Recording
	Handle    *vault.Handle

	Advisory string
}

// transition is the only place phases change.
func transition(s State, ev Event) (State, error) {
	if ev.Kind == EventCancel {
		return State{Phase: PhaseIdle}, nil
	}
	switch s.Phase {
	case PhaseIdle:
		switch ev.Kind {
		case EventStart:
			if ev.Session == nil {
				break
			}
			return State{Phase: PhaseCapturing, Session: ev.Session}, nil
		case EventImport:
			if ev.Payload.Empty() {
				break
			}
			return State{Phase: PhaseEditing, Raw: ev.Payload, Duration: ev.Duration}, nil
		case EventOpen:
			if ev.Recording.ID == "" || ev.Handle == nil {
				break
			}
			rec := ev.Recording
			return State{Phase: PhaseViewing, Recording: &rec, Handle: ev.Handle}, nil
		}
	case PhaseCapturing:
		if ev.Kind == EventFinish {
			return State{Phase: PhaseEditing, Raw: ev.Payload, Duration: ev.Duration}, nil
		}
	case PhaseEditing:
		if ev.Kind == EventSave {
			if s.Raw.Empty() && s.Pending == nil {
				return s, fault.Wrap(fault.ErrInvalidTransition, "pipeline", string(ev.Kind), "no payload to save", nil)
			}
			next := s
			next.Phase = PhasePersisting
			next.Advisory = ""
			return next, nil
		}
	case PhasePersisting:
		switch ev.Kind {
		case EventDone:
			if ev.Recording.ID == "" {
				break
			}
			rec := ev.Recording
			return State{Phase: PhaseViewing, Recording: &rec, Handle: ev.Handle, Advisory: ev.Advisory}, nil
		case EventFail:
			pending := ev.Payload
			return State{
				Phase:           PhaseEditing,
				Raw:             s.Raw,
				Duration:        s.Duration,
				Pending:         &pending,
				PendingDuration: ev.Duration,
				Advisory:        ev.Advisory,
			}, nil
		}
	case PhaseViewing:
		if ev.Kind == EventReset {
			return State{Phase: PhaseIdle}, nil
		}
	}
	return s, fault.Wrap(fault.ErrInvalidTransition, "pipeline", string(ev.Kind), fmt.Sprintf("not allowed from %s", s.Phase), nil)
}
