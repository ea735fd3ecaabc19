// Package media holds the Payload type exchanged between capture, trim, and
// storage, plus helpers for media types and container extensions.
//
// Container inspection lives in the ffprobe subpackage.
package media
