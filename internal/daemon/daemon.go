package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"harmonix/internal/backend"
	"harmonix/internal/config"
	"harmonix/internal/history"
	"harmonix/internal/host"
	"harmonix/internal/logging"
	"harmonix/internal/preflight"
	"harmonix/internal/progress"
	"harmonix/internal/protocol"
)

// ErrNotRunning is returned by invocation calls while the daemon is stopped.
var ErrNotRunning = errors.New("daemon is not running")

// Option configures a Daemon.
type Option func(*Daemon)

// WithProber enables the worker readiness probe during startup checks.
func WithProber(p preflight.Prober) Option {
	return func(d *Daemon) { d.prober = p }
}

// WithoutPreflight skips the startup checks.
func WithoutPreflight() Option {
	return func(d *Daemon) { d.skipPreflight = true }
}

// Daemon owns the host service and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	svc    *host.Service
	store  *history.Store

	lockPath string
	lock     *flock.Flock

	prober        preflight.Prober
	skipPreflight bool

	running atomic.Bool
	mu      sync.Mutex
	started time.Time
	checks  []preflight.Result
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running     bool
	PID         int
	StartedAt   time.Time
	Active      []string
	Stats       map[history.Status]int
	HistoryPath string
	LockPath    string
	SocketPath  string
	Checks      []preflight.Result
}

// New constructs a daemon around an existing host service and history store.
func New(cfg *config.Config, svc *host.Service, store *history.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || svc == nil || store == nil {
		return nil, errors.New("daemon requires config, host service, and history store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		svc:      svc,
		store:    store,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start acquires the daemon lock, recovers interrupted history records and
// launches the startup checks.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(d.cfg.Paths.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another harmonix daemon instance is already running")
	}

	if n, err := d.store.MarkInterrupted(ctx); err != nil {
		logging.WarnWithContext(d.logger, "failed to recover interrupted invocations", "history_recover_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check history database permissions"),
			logging.String(logging.FieldImpact, "stale records stay in running state"),
		)
	} else if n > 0 {
		d.logger.Info("marked interrupted invocations failed",
			logging.String(logging.FieldEventType, "history_recovered"),
			logging.Int("count", int(n)),
		)
	}

	checkCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.mu.Lock()
	d.started = time.Now()
	d.cancel = cancel
	d.checks = nil
	d.mu.Unlock()

	d.running.Store(true)
	d.logger.Info("harmonix daemon started", logging.String("lock", d.lockPath))

	if !d.skipPreflight {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.runPreflight(checkCtx)
		}()
	}
	return nil
}

// Stop cancels running invocations and releases the daemon lock. The host
// service stays usable so the daemon can be started again.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.running.Store(false)

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()
	d.wg.Wait()

	for _, id := range d.svc.Running() {
		d.svc.Cancel(id)
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_unlock_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
		)
	}
	d.logger.Info("harmonix daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.svc.Close()
	return d.store.Close()
}

// Running reports whether the daemon holds its lock.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Service exposes the host service.
func (d *Daemon) Service() *host.Service {
	return d.svc
}

// Convert runs one invocation to completion.
func (d *Daemon) Convert(ctx context.Context, req protocol.Request, sink backend.ProgressSink) (host.Outcome, error) {
	if !d.running.Load() {
		return host.Outcome{}, ErrNotRunning
	}
	return d.svc.Convert(ctx, req, sink)
}

// Submit starts an invocation in the background.
func (d *Daemon) Submit(ctx context.Context, req protocol.Request) (string, error) {
	if !d.running.Load() {
		return "", ErrNotRunning
	}
	return d.svc.Start(ctx, req)
}

// Cancel stops a running invocation.
func (d *Daemon) Cancel(id string) bool {
	return d.svc.Cancel(id)
}

// Outcome reports an invocation's state. With wait set it blocks until the
// invocation settles or ctx ends.
func (d *Daemon) Outcome(ctx context.Context, id string, wait bool) (host.Outcome, bool, error) {
	if wait {
		outcome, err := d.svc.Wait(ctx, id)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return d.svc.Outcome(context.WithoutCancel(ctx), id)
			}
			return host.Outcome{}, false, err
		}
		return outcome, false, nil
	}
	return d.svc.Outcome(ctx, id)
}

// Progress returns buffered worker messages for an invocation.
func (d *Daemon) Progress(ctx context.Context, id string, since uint64, limit int, wait bool) (progress.Batch, error) {
	return d.svc.Hub().Fetch(ctx, id, since, limit, wait)
}

// History lists recorded invocations, newest first.
func (d *Daemon) History(ctx context.Context, opts history.ListOptions) ([]history.Record, error) {
	return d.store.List(ctx, opts)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	started := d.started
	checks := append([]preflight.Result(nil), d.checks...)
	d.mu.Unlock()

	active := d.svc.Running()
	sort.Strings(active)
	status := Status{
		Running:     d.running.Load(),
		PID:         os.Getpid(),
		Active:      active,
		HistoryPath: d.store.Path(),
		LockPath:    d.lockPath,
		SocketPath:  d.cfg.SocketPath(),
		Checks:      checks,
	}
	if status.Running {
		status.StartedAt = started
	}
	stats, err := d.store.Stats(ctx)
	if err != nil {
		d.logger.Debug("history stats unavailable", logging.Error(err))
	}
	status.Stats = stats
	return status
}

func (d *Daemon) runPreflight(ctx context.Context) {
	results := preflight.RunAll(ctx, d.cfg, d.prober)
	d.mu.Lock()
	d.checks = results
	d.mu.Unlock()

	failed := preflight.Failed(results)
	for _, r := range failed {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "run harmonix doctor for details"),
			logging.String(logging.FieldImpact, "conversions may fail until resolved"),
		)
	}
	if len(failed) == 0 {
		d.logger.Info("preflight checks passed",
			logging.String(logging.FieldEventType, "preflight_ok"),
			logging.Int("checks", len(results)),
		)
	}
}
