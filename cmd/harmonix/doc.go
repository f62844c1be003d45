// Package main hosts the harmonix CLI entrypoint and command graph.
//
// The Cobra-based command tree runs conversions in-process or through the
// daemon socket, reports how the worker bundle resolves, runs readiness checks,
// lists invocation history, and scaffolds configuration. It centralizes
// configuration resolution, socket discovery, and logger setup so subcommands
// can focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
