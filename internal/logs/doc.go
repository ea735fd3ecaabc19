// Package logs reads the rotating JSON log file Flux writes.
//
// Tail returns the last N entries with bounded memory, optionally keeps
// following the file as new lines arrive, and can narrow the output to one
// recording or component. `flux logs` is its only caller.
package logs
