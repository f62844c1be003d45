package daemonctl

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"harmonix/internal/daemon"
	"harmonix/internal/deps"
	"harmonix/internal/history"
	"harmonix/internal/host"
	"harmonix/internal/ipc"
	"harmonix/internal/logging"
	"harmonix/internal/testsupport"
)

const readyWorker = `read -r line
echo '{"status":"ready"}'
`

func serveDaemon(t *testing.T) (socket string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets")
	}
	cfg := testsupport.NewConfig(t, testsupport.WithWorkerScript(readyWorker))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	svc := host.New(cfg, host.WithHistory(store), host.WithLogger(logger))
	d, err := daemon.New(cfg, svc, store, logger, daemon.WithoutPreflight())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	socket = cfg.SocketPath()
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		cancel()
		d.Close()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping socket test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})
	return socket
}

func TestEnsureStartedFindsRunningDaemon(t *testing.T) {
	socket := serveDaemon(t)

	result, err := EnsureStarted(socket, "/nonexistent/harmonix", LaunchOptions{}, time.Second)
	if err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	if result.State != StartStateAlreadyRunning || result.Launched {
		t.Fatalf("unexpected result %#v", result)
	}
	if result.PID != os.Getpid() {
		t.Fatalf("expected in-process pid %d, got %d", os.Getpid(), result.PID)
	}

	alive, pid, err := ProcessInfo(socket)
	if err != nil || !alive || pid != os.Getpid() {
		t.Fatalf("ProcessInfo = %v, %d, %v", alive, pid, err)
	}
}

func TestStopRefusesOwnProcess(t *testing.T) {
	socket := serveDaemon(t)
	cfg := testsupport.NewConfig(t)

	if _, err := StopAndTerminate(socket, cfg, time.Second); err == nil {
		t.Fatal("expected stop of the current process to be refused")
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	socket := filepath.Join(cfg.Paths.StateDir, "absent.sock")

	if _, err := StopAndTerminate(socket, cfg, time.Second); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	if err := WaitForShutdown(socket, time.Second); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
	alive, _, err := ProcessInfo(socket)
	if err != nil || alive {
		t.Fatalf("ProcessInfo = %v, %v", alive, err)
	}
}

func TestLaunchBuildsServeArguments(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	var gotExe string
	var gotArgs []string
	original := launchCommand
	launchCommand = func(executable string, args ...string) *exec.Cmd {
		gotExe = executable
		gotArgs = args
		return exec.Command("/bin/sh", "-c", "exit 0")
	}
	t.Cleanup(func() { launchCommand = original })

	err := Launch("/opt/harmonix", LaunchOptions{SocketPath: "/tmp/h.sock", ConfigPath: "/etc/h.toml", LogLevel: "debug"})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	want := "serve --socket /tmp/h.sock --config /etc/h.toml --log-level debug"
	if gotExe != "/opt/harmonix" || strings.Join(gotArgs, " ") != want {
		t.Fatalf("launched %s %v", gotExe, gotArgs)
	}

	if err := Launch("  ", LaunchOptions{}); err == nil {
		t.Fatal("expected empty executable to fail")
	}
}

func TestForceKillProcessGuards(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "harmonixd.pid")

	if _, err := ForceKillProcess(pidPath, "", 0); err == nil {
		t.Fatal("expected missing pid to fail")
	}
	if err := os.WriteFile(pidPath, []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := ForceKillProcess(pidPath, "", os.Getpid()); err == nil {
		t.Fatal("expected refusal to kill the current process")
	}
}

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkerScript(readyWorker))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	if err := store.Begin(ctx, history.Record{ID: "a", Operation: "convert", Files: []string{"x.wav"}, Format: "mp3", Output: "/out", StartedAt: time.Now()}); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	snap, err := BuildStatusSnapshot(ctx, filepath.Join(cfg.Paths.StateDir, "absent.sock"), cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if snap.Running {
		t.Fatal("expected offline snapshot")
	}
	if snap.Stats["running"] != 1 {
		t.Fatalf("expected local stats, got %#v", snap.Stats)
	}
	if len(snap.Checks) == 0 {
		t.Fatal("expected local preflight checks")
	}
	for _, c := range snap.Checks {
		if c.Name == "Worker readiness" {
			t.Fatal("offline snapshot should not start the worker")
		}
	}
	if snap.DependencySummary.Total == 0 || snap.DependencySummary.MissingRequired != 0 {
		t.Fatalf("unexpected dependency summary %#v", snap.DependencySummary)
	}
}

func TestBuildDependencySummary(t *testing.T) {
	empty := BuildDependencySummary(nil)
	if empty.Severity != "info" {
		t.Fatalf("expected info severity, got %#v", empty)
	}

	summary := BuildDependencySummary([]deps.Status{
		{Name: "Interpreter", Available: true},
		{Name: "FFmpeg", Optional: true},
	})
	if summary.Severity != "warn" || summary.Available != 1 || summary.MissingOptional != 1 {
		t.Fatalf("unexpected summary %#v", summary)
	}
	if summary.Detail != "1/2 available (missing: 0 required, 1 optional)" {
		t.Fatalf("unexpected detail %q", summary.Detail)
	}

	summary = BuildDependencySummary([]deps.Status{{Name: "Interpreter"}})
	if summary.Severity != "error" || summary.MissingRequired != 1 {
		t.Fatalf("unexpected summary %#v", summary)
	}
}
