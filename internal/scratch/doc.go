// Package scratch reclaims the temporary area Flux writes playable files and
// precise-trim work directories into.
package scratch
