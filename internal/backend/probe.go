package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"harmonix/internal/protocol"
	"harmonix/internal/resolver"
)

// ReadyStatus is what an idle worker reports when started without a request.
const ReadyStatus = "ready"

// ErrNotReady reports a worker that exited without announcing readiness.
var ErrNotReady = errors.New("worker did not report ready")

// ProbeResult describes a successful readiness probe.
type ProbeResult struct {
	Status   string
	Message  string
	Duration time.Duration
}

// Probe starts the worker with an empty stdin and expects it to announce
// readiness before exiting.
func (s *Supervisor) Probe(ctx context.Context, env *resolver.Environment) (ProbeResult, error) {
	started := time.Now()
	proc, err := s.spawn(ctx, env, nil, true)
	if err != nil {
		return ProbeResult{}, err
	}

	var ready *protocol.Message
	_, err = proc.Stream(func(msg protocol.Message) {
		if ready == nil && msg.Text("status") == ReadyStatus {
			m := msg
			ready = &m
		}
	})
	if err != nil && !errors.Is(err, ErrNoTerminalMessage) {
		return ProbeResult{}, err
	}
	if ready == nil {
		return ProbeResult{}, fmt.Errorf("%w: last output %q", ErrNotReady, lastOutput(err))
	}
	return ProbeResult{
		Status:   ready.Text("status"),
		Message:  ready.Text("message"),
		Duration: time.Since(started),
	}, nil
}

func lastOutput(err error) string {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.LastOutput
	}
	return ""
}
