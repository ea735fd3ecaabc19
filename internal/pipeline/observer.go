package pipeline

import "time"

// Observer receives pipeline notifications. Methods are called synchronously
// and must not call back into the Orchestrator.
type Observer interface {
	OnPhase(phase Phase)
	// OnProgress reports persistence progress, monotonic and ending at 100.
	OnProgress(percent int)
	OnAdvisory(message string)
	OnElapsed(elapsed time.Duration)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) OnPhase(Phase)           {}
func (NopObserver) OnProgress(int)          {}
func (NopObserver) OnAdvisory(string)       {}
func (NopObserver) OnElapsed(time.Duration) {}
