// Package daemon coordinates the long-running Harmonix host process.
//
// It wires configuration, the invocation history store and the host service
// into a single lifecycle with flock-based locking to prevent multiple
// instances. On start the daemon fails history records left running by a
// previous process and runs the preflight checks so a broken worker bundle
// shows up in the log before the first request arrives.
//
// Keep orchestration logic here: worker resolution and supervision belong to
// their own packages while the daemon focuses on startup, shutdown and the
// calls the IPC layer forwards.
package daemon
