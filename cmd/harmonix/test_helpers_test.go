package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"harmonix/internal/config"
	"harmonix/internal/daemon"
	"harmonix/internal/history"
	"harmonix/internal/host"
	"harmonix/internal/ipc"
	"harmonix/internal/logging"
	"harmonix/internal/testsupport"
)

const cliWorker = `read -r line
if [ -z "$line" ]; then
  echo '{"status":"ready","message":"idle"}'
  exit 0
fi
case "$line" in
  *'"format":"broken"'*) echo 'boom' >&2; exit 4 ;;
esac
echo '{"event":"progress","status":"converting","index":1,"total":1,"file":"/music/a.wav"}'
echo '{"event":"complete","status":"ok","message":"converted","outputs":["/out/a.mp3"]}'
`

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	socketPath string
	baseDir    string
}

// setupCLITestEnv writes a config pointing at a fake worker bundle. Commands
// run in-process unless the test also starts a daemon.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell workers")
	}
	cfg := testsupport.NewConfig(t, testsupport.WithWorkerScript(cliWorker))
	base := testsupport.BaseDir(cfg)
	home := filepath.Join(base, "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{
		cfg:        cfg,
		configPath: configPath,
		socketPath: filepath.Join(cfg.Paths.StateDir, "harmonix.sock"),
		baseDir:    base,
	}
}

// startDaemon serves the env's config over its socket until the test ends.
func (e *cliTestEnv) startDaemon(t *testing.T) {
	t.Helper()
	if err := e.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	store, err := history.Open(e.cfg)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	logger := logging.NewNop()
	svc := host.New(e.cfg, host.WithHistory(store), host.WithLogger(logger))
	d, err := daemon.New(e.cfg, svc, store, logger, daemon.WithoutPreflight())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon Start: %v", err)
	}
	srv, err := ipc.NewServer(ctx, e.socketPath, d, logger)
	if err != nil {
		cancel()
		d.Close()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping daemon-backed CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
state_dir = %q
log_dir = %q

[worker]
resource_dir = %q
work_dir = %q
profile = %q
close_stdin = true

[logging]
level = "error"
`,
		cfg.Paths.StateDir,
		cfg.Paths.LogDir,
		cfg.Worker.ResourceDir,
		cfg.Worker.WorkDir,
		cfg.Worker.Profile,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func writeInput(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
