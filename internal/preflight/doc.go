// Package preflight provides readiness checks for the binaries and
// filesystem paths Flux depends on.
//
// These checks run in two contexts:
//   - "flux record" and "flux import" call RunAll before touching the vault.
//     A failed required check aborts before any capture starts.
//   - "flux doctor" prints every check, including optional ones such as
//     precise trim support, so users can see what a save will fall back to.
package preflight
