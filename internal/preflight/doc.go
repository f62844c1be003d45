// Package preflight provides readiness checks for the worker bundle and the
// filesystem paths the host depends on.
//
// These checks run in two contexts:
//   - The CLI "harmonix doctor" command calls RunAll and renders the results.
//   - The daemon calls RunAll at startup and logs any failure as a warning,
//     so a broken bundle is visible before the first conversion request.
//
// A failed resolution skips the checks that need a resolved environment.
package preflight
