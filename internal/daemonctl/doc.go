// Package daemonctl launches, stops, and inspects a background harmonix daemon
// from the CLI. It talks to the daemon over the IPC socket and falls back to
// the local history store and dependency checks when no daemon answers.
package daemonctl
