package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"harmonix/internal/logging"
	"harmonix/internal/protocol"
	"harmonix/internal/resolver"
	"harmonix/internal/workerenv"
)

var commandContext = exec.CommandContext

// DefaultWaitDelay bounds how long Wait lingers after the worker is signalled
// before it is killed outright.
const DefaultWaitDelay = 5 * time.Second

// ProgressSink receives every decoded stdout message in read order, including
// the terminal one. It runs on the reading goroutine and must not block for
// long.
type ProgressSink func(protocol.Message)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) { s.base = logger }
}

// WithBaseEnv replaces the snapshot the worker environment is derived from.
func WithBaseEnv(fn func() []string) Option {
	return func(s *Supervisor) {
		if fn != nil {
			s.baseEnv = fn
		}
	}
}

// WithCloseStdin controls whether stdin is closed after the request is
// written. When false it stays open until the worker exits.
func WithCloseStdin(closeStdin bool) Option {
	return func(s *Supervisor) { s.closeStdin = closeStdin }
}

// WithIdentity sets the tag applied to the worker's stderr log lines.
func WithIdentity(identity string) Option {
	return func(s *Supervisor) { s.identity = strings.TrimSpace(identity) }
}

// WithWaitDelay overrides DefaultWaitDelay.
func WithWaitDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.waitDelay = d
		}
	}
}

// WithEnvOptions forwards options to workerenv.Build.
func WithEnvOptions(opts ...workerenv.Option) Option {
	return func(s *Supervisor) { s.envOpts = append(s.envOpts, opts...) }
}

// Supervisor spawns workers. It holds no per-invocation state and may be
// shared by concurrent invocations.
type Supervisor struct {
	base       *slog.Logger
	logger     *slog.Logger
	baseEnv    func() []string
	closeStdin bool
	identity   string
	waitDelay  time.Duration
	envOpts    []workerenv.Option
}

// New constructs a Supervisor.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		baseEnv:    os.Environ,
		closeStdin: true,
		waitDelay:  DefaultWaitDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.base == nil {
		s.base = logging.NewNop()
	}
	s.logger = logging.NewComponentLogger(s.base, "backend")
	return s
}

// Process is a running worker. Stream must be called exactly once.
type Process struct {
	cmd          *exec.Cmd
	ctx          context.Context
	stdin        io.WriteCloser
	stdout       io.ReadCloser
	stderr       io.ReadCloser
	logger       *slog.Logger
	workerLogger *slog.Logger
	started      time.Time
}

// Run spawns the worker and streams it to completion.
func (s *Supervisor) Run(ctx context.Context, env *resolver.Environment, req protocol.Request, sink ProgressSink) (protocol.Result, error) {
	proc, err := s.Spawn(ctx, env, req)
	if err != nil {
		return protocol.Result{}, err
	}
	return proc.Stream(sink)
}

// Spawn starts the worker and writes the request line to its stdin.
func (s *Supervisor) Spawn(ctx context.Context, env *resolver.Environment, req protocol.Request) (*Process, error) {
	payload, err := req.Encode()
	if err != nil {
		return nil, &SpawnError{Kind: ErrWriteFailed, Err: err}
	}
	return s.spawn(ctx, env, payload, s.closeStdin)
}

func (s *Supervisor) spawn(ctx context.Context, env *resolver.Environment, payload []byte, closeStdin bool) (*Process, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.WithContext(ctx, s.logger)
	display := env.InterpreterPath + " " + env.WorkerEntryPath

	cmd := commandContext(ctx, env.InterpreterPath, env.WorkerEntryPath) //nolint:gosec
	cmd.Env = workerenv.Build(s.baseEnv(), env, s.envOpts...)
	cmd.WaitDelay = s.waitDelay
	configureProcess(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Kind: ErrLaunchFailed, Command: display, Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Kind: ErrLaunchFailed, Command: display, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Kind: ErrLaunchFailed, Command: display, Err: fmt.Errorf("stderr pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		logging.ErrorWithContext(logger, "worker launch failed", "worker_launch_failed",
			logging.String("command", display),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the interpreter exists and is executable"),
		)
		return nil, &SpawnError{Kind: ErrLaunchFailed, Command: display, Err: err}
	}

	identity := s.identity
	if identity == "" {
		identity = strings.TrimSuffix(filepath.Base(env.InterpreterPath), ".exe")
	}
	proc := &Process{
		cmd:     cmd,
		ctx:     ctx,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
		logger:  logger,
		started: time.Now(),
		workerLogger: logging.WithContext(ctx, logging.NewComponentLogger(s.base, "worker")).With(
			logging.String(logging.FieldWorker, identity),
		),
	}
	logger.Info("worker started",
		logging.Int("pid", cmd.Process.Pid),
		logging.String("interpreter", env.InterpreterPath),
		logging.String("entry", env.WorkerEntryPath),
		logging.Bool("bundled_runtime", env.UsesBundledRuntime),
	)

	if len(payload) > 0 {
		if _, err := stdin.Write(payload); err != nil {
			proc.abort()
			return nil, &SpawnError{Kind: ErrWriteFailed, Command: display, Err: err}
		}
	}
	if closeStdin {
		if err := stdin.Close(); err != nil {
			proc.abort()
			return nil, &SpawnError{Kind: ErrWriteFailed, Command: display, Err: fmt.Errorf("close stdin: %w", err)}
		}
	}
	return proc, nil
}

// PID returns the worker's process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// abort kills a worker whose invocation cannot continue and reaps it.
func (p *Process) abort() {
	if err := killProcess(p.cmd); err != nil {
		p.logger.Debug("kill worker", logging.Error(err))
	}
	_ = p.cmd.Wait()
}
