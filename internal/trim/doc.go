// Package trim cuts a time window out of a recorded payload.
//
// Two strategies share the Trimmer contract. Heuristic maps the window to byte
// offsets using the average byte rate and slices without decoding; it never
// fails for a valid range. Precise re-encodes the window with an ffmpeg engine
// resolved once per process by Loader, which tries the configured binary, a
// content-addressed cache, and finally a list of download mirrors verified
// against a pinned sha256. Capability reports up front whether Precise can be
// attempted at all.
package trim
