// Package resolver locates everything needed to launch the conversion worker:
// the worker entry point, an interpreter able to run it, the auxiliary codec
// tool the worker shells out to, and the runtime home implied by the chosen
// interpreter.
//
// Candidate locations come from static layout tables (bundled resources,
// development checkouts, legacy bin roots) and are always tried in a fixed
// priority order: the first candidate that exists wins, even when later ones
// also exist. A development build falls back to python3 from PATH when no
// bundled runtime is present; a release build (built with -tags release)
// refuses instead so packaging mistakes surface immediately.
//
// Resolve performs no side effects beyond filesystem stats, so a failed
// resolution never leaves a process behind.
package resolver
