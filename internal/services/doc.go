// Package services defines shared utilities consumed by the host invocation
// flow and its collaborators.
//
// Key responsibilities:
//   - Context helpers that stamp invocation IDs and operation tags for logging
//     and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent history statuses (failed vs rejected).
//
// Use these helpers when wiring new host logic so operational behaviour (error
// handling, observability) stays uniform across invocations.
package services
