// Package history records every worker invocation in SQLite.
//
// A record is written when an invocation begins and completed once the worker
// has exited (or was never started). The store keeps the request, the resolved
// interpreter, the terminal result or failure text, and timing, so operators
// can answer "what ran, with which runtime, and why did it fail" after the
// fact.
//
// Like a queue database, this file is disposable: schema changes bump
// schemaVersion and users delete the database to adopt them.
package history
