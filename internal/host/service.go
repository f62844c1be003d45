package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"harmonix/internal/backend"
	"harmonix/internal/config"
	"harmonix/internal/history"
	"harmonix/internal/logging"
	"harmonix/internal/progress"
	"harmonix/internal/protocol"
	"harmonix/internal/resolver"
	"harmonix/internal/services"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("host service closed")

// ErrUnknownInvocation is returned for ids the service has never seen.
var ErrUnknownInvocation = errors.New("unknown invocation")

// Runner executes one worker invocation. *backend.Supervisor satisfies it.
type Runner interface {
	Run(ctx context.Context, env *resolver.Environment, req protocol.Request, sink backend.ProgressSink) (protocol.Result, error)
}

// ResolveFunc produces the worker environment for one invocation.
type ResolveFunc func() (*resolver.Environment, error)

// Option configures a Service.
type Option func(*Service)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithHub shares a progress hub with other components.
func WithHub(hub *progress.Hub) Option {
	return func(s *Service) {
		if hub != nil {
			s.hub = hub
		}
	}
}

// WithHistory records invocations in store.
func WithHistory(store *history.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithRunner replaces the worker supervisor.
func WithRunner(r Runner) Option {
	return func(s *Service) {
		if r != nil {
			s.runner = r
		}
	}
}

// WithResolve replaces per-invocation resolution.
func WithResolve(fn ResolveFunc) Option {
	return func(s *Service) {
		if fn != nil {
			s.resolve = fn
		}
	}
}

const finishedCapacity = 256

// Service runs invocations.
type Service struct {
	cfg     *config.Config
	logger  *slog.Logger
	hub     *progress.Hub
	store   *history.Store
	runner  Runner
	resolve ResolveFunc

	mu            sync.Mutex
	closed        bool
	running       map[string]*invocation
	finished      map[string]Outcome
	finishedOrder []string
	wg            sync.WaitGroup
}

type invocation struct {
	done    chan struct{}
	cancel  context.CancelFunc
	outcome Outcome
}

// New constructs a Service from configuration.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		running:  make(map[string]*invocation),
		finished: make(map[string]Outcome),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "host")
	if s.hub == nil {
		s.hub = progress.NewHub(0)
	}
	if s.runner == nil {
		s.runner = NewSupervisor(cfg, s.logger)
	}
	if s.resolve == nil {
		s.resolve = func() (*resolver.Environment, error) {
			r, err := NewResolver(cfg, s.logger)
			if err != nil {
				return nil, err
			}
			return r.Resolve()
		}
	}
	return s
}

// NewResolver builds a resolver from the [worker] configuration.
func NewResolver(cfg *config.Config, logger *slog.Logger) (*resolver.Resolver, error) {
	profile, err := resolver.ParseProfile(cfg.Worker.Profile)
	if err != nil {
		return nil, err
	}
	return resolver.New(
		resolver.Roots{ResourceDir: cfg.Worker.ResourceDir, WorkDir: cfg.Worker.WorkDir},
		resolver.WithProfile(profile),
		resolver.WithEntry(filepath.ToSlash(cfg.Worker.Entry)),
		resolver.WithLogger(logger),
	), nil
}

// NewSupervisor builds a supervisor from the [worker] configuration.
func NewSupervisor(cfg *config.Config, logger *slog.Logger) *backend.Supervisor {
	return backend.New(
		backend.WithLogger(logger),
		backend.WithCloseStdin(cfg.Worker.CloseStdin),
		backend.WithIdentity(cfg.Worker.Identity),
	)
}

// Hub exposes the progress hub.
func (s *Service) Hub() *progress.Hub {
	return s.hub
}

// Convert runs one invocation to completion. sink, when set, also receives
// every worker message. The returned error mirrors Outcome.Error.
func (s *Service) Convert(ctx context.Context, req protocol.Request, sink backend.ProgressSink) (Outcome, error) {
	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	inv, err := s.register(id, cancel)
	if err != nil {
		return Outcome{InvocationID: id}, err
	}
	defer s.wg.Done()
	outcome, runErr := s.run(runCtx, id, req, sink)
	s.settle(id, inv, outcome)
	return outcome, runErr
}

// Start launches an invocation in the background and returns its id. The
// invocation outlives ctx's cancellation; use Cancel to stop it.
func (s *Service) Start(ctx context.Context, req protocol.Request) (string, error) {
	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	inv, err := s.register(id, cancel)
	if err != nil {
		cancel()
		return "", err
	}
	go func() {
		defer s.wg.Done()
		defer cancel()
		outcome, _ := s.run(runCtx, id, req, nil)
		s.settle(id, inv, outcome)
	}()
	return id, nil
}

// Cancel stops a running invocation started with Start.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	inv, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	inv.cancel()
	return true
}

// Outcome returns a settled invocation's outcome. running is true while the
// invocation is still in progress.
func (s *Service) Outcome(ctx context.Context, id string) (outcome Outcome, running bool, err error) {
	s.mu.Lock()
	if _, ok := s.running[id]; ok {
		s.mu.Unlock()
		return Outcome{InvocationID: id, Status: history.StatusRunning}, true, nil
	}
	if outcome, ok := s.finished[id]; ok {
		s.mu.Unlock()
		return outcome, false, nil
	}
	s.mu.Unlock()

	if s.store != nil {
		rec, err := s.store.Get(ctx, id)
		if err == nil {
			return FromRecord(*rec), rec.Status == history.StatusRunning, nil
		}
		if !errors.Is(err, history.ErrNotFound) {
			return Outcome{}, false, err
		}
	}
	return Outcome{}, false, fmt.Errorf("%w: %s", ErrUnknownInvocation, id)
}

// Wait blocks until the invocation settles or ctx ends.
func (s *Service) Wait(ctx context.Context, id string) (Outcome, error) {
	s.mu.Lock()
	inv, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		select {
		case <-inv.done:
			return inv.outcome, nil
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}
	outcome, _, err := s.Outcome(ctx, id)
	return outcome, err
}

// Running lists the ids of invocations in progress.
func (s *Service) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	return ids
}

// Close refuses new invocations, cancels running ones and waits for them.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	for _, inv := range s.running {
		inv.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) register(id string, cancel context.CancelFunc) (*invocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	inv := &invocation{done: make(chan struct{}), cancel: cancel}
	s.running[id] = inv
	s.wg.Add(1)
	return inv, nil
}

func (s *Service) settle(id string, inv *invocation, outcome Outcome) {
	s.mu.Lock()
	delete(s.running, id)
	s.finished[id] = outcome
	s.finishedOrder = append(s.finishedOrder, id)
	if len(s.finishedOrder) > finishedCapacity {
		delete(s.finished, s.finishedOrder[0])
		s.finishedOrder = s.finishedOrder[1:]
	}
	inv.outcome = outcome
	s.mu.Unlock()
	close(inv.done)
	s.hub.Close(id)
}

func (s *Service) run(ctx context.Context, id string, req protocol.Request, sink backend.ProgressSink) (Outcome, error) {
	ctx = services.WithInvocationID(ctx, id)
	ctx = services.WithOperation(ctx, string(req.Operation))
	logger := logging.WithContext(ctx, s.logger)

	outcome := Outcome{InvocationID: id, StartedAt: time.Now().UTC()}
	s.begin(ctx, logger, outcome, req)

	env, err := s.prepare(ctx, req)
	if err != nil {
		return s.finish(ctx, logger, outcome, nil, err)
	}
	outcome.Interpreter = env.InterpreterPath
	outcome.BundledRuntime = env.UsesBundledRuntime

	if s.cfg.Host.LockOutput {
		lock, err := lockOutput(ctx, filepath.Join(s.cfg.Paths.StateDir, "locks"), req.Output)
		if err != nil {
			return s.finish(ctx, logger, outcome, env, services.Wrap(services.ErrTransient, "host", "lock output", "", err))
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				logger.Warn("release output lock", logging.Error(err))
			}
		}()
	}

	runCtx := ctx
	if seconds := s.cfg.Worker.TimeoutSeconds; seconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(seconds)*time.Second)
		defer cancel()
	}

	logger.Info("invocation started",
		logging.Int("files", len(req.Files)),
		logging.String("format", req.Format),
		logging.String("output", req.Output),
	)
	sampler := logging.NewProgressSampler(10)
	result, err := s.runner.Run(runCtx, env, req, func(msg protocol.Message) {
		kind := progress.KindProgress
		if msg.Kind == protocol.KindComplete {
			kind = progress.KindComplete
		} else {
			logProgress(logger, sampler, msg)
		}
		s.hub.Publish(progress.Event{InvocationID: id, Kind: kind, Payload: msg.Payload()})
		outcome.ProgressEvents++
		if sink != nil {
			sink(msg)
		}
	})
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = services.Wrap(services.ErrTimeout, "host", "run worker",
				fmt.Sprintf("worker exceeded %ds", s.cfg.Worker.TimeoutSeconds), err)
		} else {
			err = services.Wrap(services.ErrExternalTool, "host", "run worker", "", err)
		}
		return s.finish(ctx, logger, outcome, env, err)
	}
	outcome.Result = result
	return s.finish(ctx, logger, outcome, env, nil)
}

func logProgress(logger *slog.Logger, sampler *logging.ProgressSampler, msg protocol.Message) {
	percent, ok := msg.Percent()
	if !ok {
		percent = -1
	}
	file := msg.Text("file")
	if !sampler.ShouldLog(percent, file) {
		return
	}
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "worker_progress")}
	if ok {
		attrs = append(attrs, logging.Any("percent", percent))
	}
	if file != "" {
		attrs = append(attrs, logging.String("file", file))
	}
	if status := msg.Text("status"); status != "" {
		attrs = append(attrs, logging.String("status", status))
	}
	logger.Debug("worker progress", logging.Args(attrs...)...)
}

// prepare validates the request and resolves the worker environment.
func (s *Service) prepare(ctx context.Context, req protocol.Request) (*resolver.Environment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "host", "validate request", "", err)
	}
	env, err := s.resolve()
	switch {
	case errors.Is(err, resolver.ErrWorkerNotFound):
		return nil, services.Wrap(services.ErrNotFound, "host", "resolve worker", "", err)
	case err != nil:
		return nil, services.Wrap(services.ErrConfiguration, "host", "resolve worker", "", err)
	}
	return env, nil
}

func (s *Service) begin(ctx context.Context, logger *slog.Logger, outcome Outcome, req protocol.Request) {
	if s.store == nil {
		return
	}
	err := s.store.Begin(context.WithoutCancel(ctx), history.Record{
		ID:        outcome.InvocationID,
		Operation: string(req.Operation),
		Files:     req.Files,
		Format:    req.Format,
		Output:    req.Output,
		StartedAt: outcome.StartedAt,
	})
	if err != nil {
		logging.WarnWithContext(logger, "history record not created", "history_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "invocation will be missing from history"),
		)
	}
}

func (s *Service) finish(ctx context.Context, logger *slog.Logger, outcome Outcome, env *resolver.Environment, runErr error) (Outcome, error) {
	outcome.FinishedAt = time.Now().UTC()
	if runErr == nil {
		outcome.Status = history.StatusSucceeded
		code := 0
		outcome.ExitCode = &code
		logger.Info("invocation succeeded",
			logging.String("status", outcome.Result.Status),
			logging.Strings("outputs", outcome.Result.Outputs),
			logging.Duration("elapsed", outcome.Duration()),
		)
	} else {
		outcome.Status = services.FailureStatus(runErr)
		outcome.Error = runErr.Error()
		var execErr *backend.ExecutionError
		if errors.As(runErr, &execErr) && execErr.ExitCode != 0 {
			code := execErr.ExitCode
			outcome.ExitCode = &code
		}
		attrs := []logging.Attr{
			logging.String("status", string(outcome.Status)),
			logging.Error(runErr),
			logging.Duration("elapsed", outcome.Duration()),
		}
		if hint := services.Hint(runErr); hint != "" {
			attrs = append(attrs, logging.String(logging.FieldErrorHint, hint))
		}
		logging.ErrorWithContext(logger, "invocation failed", "invocation_failed", attrs...)
	}

	if s.store != nil {
		done := history.Completion{
			Status:         outcome.Status,
			ResultStatus:   outcome.Result.Status,
			Message:        outcome.Result.Message,
			Outputs:        outcome.Result.Outputs,
			ErrorMessage:   outcome.Error,
			ExitCode:       outcome.ExitCode,
			BundledRuntime: outcome.BundledRuntime,
			Interpreter:    outcome.Interpreter,
			ProgressEvents: outcome.ProgressEvents,
			FinishedAt:     outcome.FinishedAt,
		}
		if env != nil {
			done.WorkerEntry = env.WorkerEntryPath
		}
		storeCtx := context.WithoutCancel(ctx)
		if err := s.store.Finish(storeCtx, outcome.InvocationID, done); err != nil {
			logging.WarnWithContext(logger, "history record not completed", "history_write_failed", logging.Error(err))
		}
		if keep := s.cfg.Host.HistoryKeep; keep > 0 {
			if _, err := s.store.Prune(storeCtx, keep); err != nil {
				logger.Debug("prune history", logging.Error(err))
			}
		}
	}
	return outcome, runErr
}
