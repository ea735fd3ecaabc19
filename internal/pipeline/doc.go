// Package pipeline drives one recording at a time through capture, editing,
// persistence, and playback.
//
// The Orchestrator holds a single State value and changes it only through
// transition. Blocking work (device acquisition, trimming, store writes) runs
// outside the orchestrator lock under a cancellable context, so Cancel can
// return to Idle from any phase and release every held resource on the way.
// Saving applies the trim fallback policy: precise trimming that is
// unsupported or fails persists the original payload with an advisory, never
// a heuristic slice. The blob is written before the catalog entry.
package pipeline
