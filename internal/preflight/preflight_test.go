package preflight

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

	"harmonix/internal/backend"
	"harmonix/internal/host"
	"harmonix/internal/logging"
	"harmonix/internal/resolver"
	"harmonix/internal/testsupport"
)

const readyWorker = `if read -r line && [ -n "$line" ]; then
  echo '{"event":"complete","status":"ok"}'
else
  echo '{"status":"ready","message":"idle"}'
fi
`

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell workers require /bin/sh")
	}
}

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDirectoryAccess_Blank(t *testing.T) {
	if result := CheckDirectoryAccess("test", " "); result.Passed || result.Detail != "not configured" {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, nil); results != nil {
		t.Fatalf("expected nil results, got %#v", results)
	}
}

func TestRunAll_ResolutionFailureStopsEarly(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}

	results := RunAll(context.Background(), cfg, nil)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %#v", results)
	}
	if !results[0].Passed || !results[1].Passed {
		t.Fatalf("expected directory checks to pass: %#v", results[:2])
	}
	resolution := results[2]
	if resolution.Passed {
		t.Fatal("expected resolution to fail without a worker")
	}
	if !strings.Contains(resolution.Detail, "paths checked") {
		t.Fatalf("expected candidate count in detail, got %q", resolution.Detail)
	}
	if failed := Failed(results); len(failed) != 1 {
		t.Fatalf("expected one failure, got %#v", failed)
	}
}

func TestRunAll_BundledWorker(t *testing.T) {
	requireShell(t)
	cfg := testsupport.NewConfig(t, testsupport.WithWorkerScript(readyWorker))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	supervisor := host.NewSupervisor(cfg, logging.NewNop())

	results := RunAll(context.Background(), cfg, supervisor)
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
		if !r.Passed {
			t.Fatalf("check %s failed: %s", r.Name, r.Detail)
		}
	}
	want := []string{"State directory", "Log directory", "Worker resolution", "Interpreter", "Runtime version", "Worker readiness"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected checks %v", names)
	}
	if results[4].Detail != "Python 3.12.7" {
		t.Fatalf("unexpected version detail %q", results[4].Detail)
	}
	if !strings.HasPrefix(results[5].Detail, "ready in ") || !strings.Contains(results[5].Detail, "(idle)") {
		t.Fatalf("unexpected readiness detail %q", results[5].Detail)
	}
}

func TestCheckInterpreter_NotExecutable(t *testing.T) {
	requireShell(t)
	path := filepath.Join(t.TempDir(), "python3")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckInterpreter(&resolver.Environment{InterpreterPath: path, UsesBundledRuntime: true})
	if result.Passed {
		t.Fatal("expected non-executable interpreter to fail")
	}
}

func TestCheckInterpreter_SystemFallbackMissing(t *testing.T) {
	t.Setenv("PATH", "")
	result := CheckInterpreter(&resolver.Environment{InterpreterPath: "python3"})
	if result.Passed {
		t.Fatal("expected missing system interpreter to fail")
	}
}

func TestCheckRuntimeVersion_Failure(t *testing.T) {
	requireShell(t)
	orig := commandContext
	t.Cleanup(func() { commandContext = orig })
	commandContext = func(ctx context.Context, _ string, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "/bin/sh", "-c", "echo broken runtime >&2; exit 3")
	}

	result := CheckRuntimeVersion(context.Background(), &resolver.Environment{InterpreterPath: "python3"})
	if result.Passed {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Detail, "broken runtime") || !strings.Contains(result.Detail, "exit status 3") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

type stubProber struct {
	res backend.ProbeResult
	err error
}

func (s stubProber) Probe(context.Context, *resolver.Environment) (backend.ProbeResult, error) {
	return s.res, s.err
}

func TestCheckReadiness(t *testing.T) {
	env := &resolver.Environment{InterpreterPath: "python3"}

	ok := CheckReadiness(context.Background(), stubProber{res: backend.ProbeResult{Status: "ready", Duration: 1500 * time.Microsecond}}, env)
	if !ok.Passed || ok.Detail != "ready in 2ms" {
		t.Fatalf("unexpected result %#v", ok)
	}

	bad := CheckReadiness(context.Background(), stubProber{err: backend.ErrNotReady}, env)
	if bad.Passed || !strings.Contains(bad.Detail, backend.ErrNotReady.Error()) {
		t.Fatalf("unexpected result %#v", bad)
	}
}

func TestSummarizeResolution(t *testing.T) {
	err := &resolver.ResolutionError{Err: resolver.ErrWorkerNotFound, Checked: []string{"a", "b"}}
	if got := summarizeResolution(err); !strings.HasSuffix(got, "(2 paths checked)") {
		t.Fatalf("unexpected summary %q", got)
	}
	if got := summarizeResolution(errors.New("plain")); got != "plain" {
		t.Fatalf("unexpected summary %q", got)
	}
}

func TestCheckResolution_BadProfile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Worker.Profile = "staging"
	result, env := CheckResolution(cfg)
	if result.Passed || env != nil {
		t.Fatalf("expected failure for unknown profile, got %#v", result)
	}
}
