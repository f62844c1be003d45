package backend

import (
	"strings"

	"harmonix/internal/protocol"
)

// Aggregator reduces a worker's stdout lines and exit status to one outcome.
// It is not safe for concurrent use; only the stdout reader feeds it.
type Aggregator struct {
	lastLine  string
	result    protocol.Result
	terminal  bool
	progress  int
	malformed int
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Observe records one stdout line and returns its decoded form. Blank lines
// are ignored entirely. A later terminal message replaces an earlier one.
func (a *Aggregator) Observe(line string) protocol.Message {
	msg := protocol.ParseLine(line)
	if strings.TrimSpace(line) == "" {
		return msg
	}
	a.lastLine = msg.Raw
	switch msg.Kind {
	case protocol.KindComplete:
		a.result = msg.Result
		a.terminal = true
	case protocol.KindProgress:
		a.progress++
	default:
		a.malformed++
	}
	return msg
}

// LastLine returns the last non-blank stdout line observed.
func (a *Aggregator) LastLine() string {
	return a.lastLine
}

// Counts returns the number of progress and malformed lines observed.
func (a *Aggregator) Counts() (progress, malformed int) {
	return a.progress, a.malformed
}

// Finish decides the outcome for the given exit code. A non-zero exit is an
// error even when a terminal message was seen.
func (a *Aggregator) Finish(exitCode int) (protocol.Result, error) {
	if exitCode != 0 {
		return protocol.Result{}, &ExecutionError{
			Kind:       ErrNonZeroExit,
			ExitCode:   exitCode,
			LastOutput: a.lastLine,
		}
	}
	if !a.terminal {
		return protocol.Result{}, &ExecutionError{
			Kind:       ErrNoTerminalMessage,
			LastOutput: a.lastLine,
		}
	}
	return a.result, nil
}
