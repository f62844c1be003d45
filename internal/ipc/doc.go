// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management, request/response DTOs, and conversions
// between history records and lightweight wire representations. Worker
// progress crosses the socket by polling Progress with a cursor, so a caller
// can Start an invocation and follow it without holding a long-lived stream.
//
// Reuse these types when adding new RPC endpoints to keep the protocol stable
// and compatible with existing command implementations.
package ipc
