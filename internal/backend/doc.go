// Package backend supervises a single worker process per invocation.
//
// Spawn starts the interpreter with the worker entry point as its only
// argument, writes the request line to stdin, and hands back a Process.
// Process.Stream then drains stderr on its own goroutine while the calling
// goroutine reads stdout, forwarding every decoded message to a ProgressSink
// in the order it was read. Both readers finish before the process is waited
// on, and the Aggregator turns the observed lines plus the exit status into a
// single protocol.Result or an *ExecutionError.
//
// Workers are started in their own process group where the platform supports
// it. Cancelling the invocation context sends SIGTERM to the whole group and,
// after the configured wait delay, kills the leader.
package backend
