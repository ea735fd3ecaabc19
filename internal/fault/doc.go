// Package fault defines the error taxonomy shared by the capture, trim,
// storage, and pipeline packages.
//
// Key responsibilities:
//   - Sentinel markers (ErrCaptureDenied, ErrTrimFailed, ...) plus the Wrap
//     helper that tags failures with the component and operation that raised
//     them while keeping errors.Is working for both marker and cause.
//   - Recoverable, which separates degraded-but-continuing failures from the
//     ones that must be surfaced to the user.
//   - Context helpers that stamp recording IDs, pipeline phases, and
//     correlation identifiers for logging.
package fault
