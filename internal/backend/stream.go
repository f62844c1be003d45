package backend

import (
	"bufio"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"

	"harmonix/internal/logging"
	"harmonix/internal/protocol"
)

const (
	initialLineBuffer = 64 * 1024
	// maxLineBytes caps a single protocol line; outputs lists can be long.
	maxLineBytes = 8 * 1024 * 1024
)

// Stream drains stdout and stderr until both close, waits for the worker, and
// returns the aggregated outcome. sink may be nil.
func (p *Process) Stream(sink ProgressSink) (protocol.Result, error) {
	agg := NewAggregator()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.drainStderr()
	}()

	readErr := p.drainStdout(agg, sink)
	if readErr != nil {
		if err := killProcess(p.cmd); err != nil {
			p.logger.Debug("kill worker", logging.Error(err))
		}
		// Reads must finish before Wait closes the pipe.
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = io.Copy(io.Discard, p.stdout)
		}()
	}
	wg.Wait()

	waitErr := p.cmd.Wait()
	progress, malformed := agg.Counts()
	elapsed := time.Since(p.started)

	if readErr != nil {
		return protocol.Result{}, &ExecutionError{
			Kind:       ErrStreamRead,
			ExitCode:   exitCode(p.cmd),
			LastOutput: agg.LastLine(),
			Err:        readErr,
		}
	}

	code := 0
	var causeErr error
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
			if code == -1 {
				causeErr = errors.New(exitErr.ProcessState.String())
			}
		} else {
			code = -1
			causeErr = waitErr
		}
	}
	if code != 0 {
		if ctxErr := p.ctx.Err(); ctxErr != nil {
			causeErr = ctxErr
		}
	}

	result, err := agg.Finish(code)
	if err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			execErr.Err = causeErr
		}
		logging.WarnWithContext(p.logger, "worker failed", "worker_failed",
			logging.Int("exit_code", code),
			logging.String("last_output", agg.LastLine()),
			logging.Int("progress_messages", progress),
			logging.Int("malformed_lines", malformed),
			logging.Duration("elapsed", elapsed),
			logging.Error(err),
			logging.String(logging.FieldImpact, "invocation produced no result"),
		)
		return protocol.Result{}, err
	}

	p.logger.Info("worker completed",
		logging.String("status", result.Status),
		logging.Int("outputs", len(result.Outputs)),
		logging.Int("progress_messages", progress),
		logging.Int("malformed_lines", malformed),
		logging.Duration("elapsed", elapsed),
	)
	return result, nil
}

func (p *Process) drainStdout(agg *Aggregator, sink ProgressSink) error {
	scanner := newLineScanner(p.stdout)
	for scanner.Scan() {
		line := scanner.Text()
		msg := agg.Observe(line)
		switch msg.Kind {
		case protocol.KindMalformed:
			if msg.Raw == "" {
				p.logger.Debug("blank worker output line skipped",
					logging.String(logging.FieldEventType, "protocol_line_blank"),
				)
			} else {
				p.logger.Warn("unparseable worker output",
					logging.String("line", msg.Raw),
					logging.Error(msg.Err),
					logging.String(logging.FieldEventType, "protocol_line_malformed"),
				)
			}
		default:
			if sink != nil {
				sink(msg)
			}
		}
	}
	return scanner.Err()
}

// drainStderr logs each stderr line. If a line is too long to scan, the rest
// is discarded so the worker never blocks on a full pipe.
func (p *Process) drainStderr() {
	scanner := newLineScanner(p.stderr)
	for scanner.Scan() {
		p.workerLogger.Info(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		p.logger.Warn("worker stderr unreadable; discarding remainder", logging.Error(err))
		_, _ = io.Copy(io.Discard, p.stderr)
	}
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineBytes)
	return scanner
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}
