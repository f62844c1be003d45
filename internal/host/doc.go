// Package host is the caller-facing surface of the worker core.
//
// Each call to Convert or Start is one invocation: it gets a fresh uuid, its
// own resolver run, its own environment and child process, and its own pipes.
// Nothing is shared between concurrent invocations except the progress hub
// (keyed by invocation id) and the history store. Outcomes are recorded in
// history and kept in memory for a while so asynchronous callers can collect
// them.
package host
