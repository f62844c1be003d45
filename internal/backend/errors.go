package backend

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLaunchFailed reports that the worker could not be started.
	ErrLaunchFailed = errors.New("launch failed")
	// ErrWriteFailed reports that the request could not be written to stdin.
	ErrWriteFailed = errors.New("write request failed")
	// ErrNonZeroExit reports a worker that exited unsuccessfully.
	ErrNonZeroExit = errors.New("worker exited with non-zero status")
	// ErrNoTerminalMessage reports a clean exit without a completion message.
	ErrNoTerminalMessage = errors.New("worker did not return a final status")
	// ErrStreamRead reports a failure reading the worker's stdout.
	ErrStreamRead = errors.New("read worker output failed")
)

// SpawnError is returned before any output has been read.
type SpawnError struct {
	// Kind is ErrLaunchFailed or ErrWriteFailed.
	Kind    error
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Command != "" {
		b.WriteString(": ")
		b.WriteString(e.Command)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SpawnError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ExecutionError is returned once the worker has run.
type ExecutionError struct {
	// Kind is ErrNonZeroExit, ErrNoTerminalMessage, or ErrStreamRead.
	Kind     error
	ExitCode int
	// LastOutput is the last non-blank stdout line, valid JSON or not.
	LastOutput string
	Err        error
}

func (e *ExecutionError) Error() string {
	var b strings.Builder
	switch e.Kind {
	case ErrNonZeroExit:
		fmt.Fprintf(&b, "worker failed with exit code %d", e.ExitCode)
		if e.Err != nil {
			fmt.Fprintf(&b, " (%v)", e.Err)
		}
		if e.LastOutput != "" {
			b.WriteString(": ")
			b.WriteString(e.LastOutput)
		}
	default:
		b.WriteString(e.Kind.Error())
		if e.Err != nil {
			b.WriteString(": ")
			b.WriteString(e.Err.Error())
		}
	}
	return b.String()
}

func (e *ExecutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
