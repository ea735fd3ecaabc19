// Package vault stores recording payloads in an embedded Badger database,
// keyed by the same recording ID the catalog uses.
//
// A payload is split into fixed-size chunks and written together with a
// manifest (media type, size, chunk count, SHA-256) in a single transaction,
// so a blob is either fully present or absent. Reads verify the digest.
//
// Playback needs a file path rather than bytes; Materialize writes the blob to
// a scratch file and returns a Handle that must be released. The store tracks
// live handles and ReleaseAll (also run by Close) removes whatever is left.
package vault
