package daemon_test

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"harmonix/internal/config"
	"harmonix/internal/daemon"
	"harmonix/internal/history"
	"harmonix/internal/host"
	"harmonix/internal/logging"
	"harmonix/internal/protocol"
	"harmonix/internal/testsupport"
)

const echoWorker = `if read -r line && [ -n "$line" ]; then
  echo '{"event":"progress","pct":50}'
  echo '{"event":"complete","status":"ok","message":"done","outputs":["/tmp/out.mp3"]}'
else
  echo '{"status":"ready"}'
fi
`

func newDaemon(t *testing.T, cfg *config.Config, opts ...daemon.Option) (*daemon.Daemon, *history.Store) {
	t.Helper()
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	svc := host.New(cfg, host.WithHistory(store), host.WithLogger(logger))
	d, err := daemon.New(cfg, svc, store, logger, opts...)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d, store
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg, daemon.WithoutPreflight())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.LockPath != cfg.LockPath() || status.SocketPath != cfg.SocketPath() {
		t.Fatalf("unexpected paths: %#v", status)
	}
	if status.StartedAt.IsZero() {
		t.Fatal("expected start time")
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
	if _, err := d.Submit(ctx, protocol.Request{}); !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}

	if err := d.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, _ := newDaemon(t, cfg, daemon.WithoutPreflight())
	second, _ := newDaemon(t, cfg, daemon.WithoutPreflight())

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected second daemon to be refused")
	}
	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second Start after release: %v", err)
	}
}

func TestDaemonRecoversInterruptedInvocations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, store := newDaemon(t, cfg, daemon.WithoutPreflight())
	ctx := context.Background()

	if err := store.Begin(ctx, history.Record{ID: "stale", Operation: "convert", Files: []string{"a.wav"}, Format: "mp3", Output: "/tmp/out"}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec, err := store.Get(ctx, "stale")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != history.StatusFailed {
		t.Fatalf("expected stale record failed, got %s", rec.Status)
	}
	if got := d.Status(ctx).Stats[history.StatusFailed]; got != 1 {
		t.Fatalf("expected 1 failed in stats, got %d", got)
	}
}

func TestDaemonPreflightAndConvert(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell workers require /bin/sh")
	}
	cfg := testsupport.NewConfig(t, testsupport.WithWorkerScript(echoWorker))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	d, _ := newDaemon(t, cfg, daemon.WithProber(host.NewSupervisor(cfg, logging.NewNop())))
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	var checks int
	for time.Now().Before(deadline) {
		if checks = len(d.Status(ctx).Checks); checks > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if checks == 0 {
		t.Fatal("preflight results never recorded")
	}
	for _, r := range d.Status(ctx).Checks {
		if !r.Passed {
			t.Fatalf("check %s failed: %s", r.Name, r.Detail)
		}
	}

	id, err := d.Submit(ctx, protocol.Request{Operation: protocol.OpConvert, Files: []string{"a.wav"}, Format: "mp3", Output: t.TempDir()})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	outcome, running, err := d.Outcome(waitCtx, id, true)
	if err != nil {
		t.Fatalf("Outcome: %v", err)
	}
	if running || !outcome.Succeeded() {
		t.Fatalf("unexpected outcome %#v", outcome)
	}
	if outcome.Result.Message != "done" {
		t.Fatalf("unexpected result %#v", outcome.Result)
	}

	batch, err := d.Progress(ctx, id, 0, 0, false)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if len(batch.Events) != 2 || !batch.Done {
		t.Fatalf("unexpected progress batch %#v", batch)
	}

	records, err := d.History(ctx, history.ListOptions{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(records) != 1 || records[0].ID != id {
		t.Fatalf("unexpected history %#v", records)
	}
}
