package deps

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"harmonix/internal/resolver"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}

	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}

	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("unexpected blank command status: %#v", results[2])
	}
	if got := Missing(results); len(got) != 2 {
		t.Fatalf("expected 2 missing, got %#v", got)
	}
}

func TestCheckWorkerBundled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs")
	}
	tmp := t.TempDir()
	script := []byte("#!/bin/sh\nexit 0\n")
	interpreter := filepath.Join(tmp, "bin", "python3")
	tool := filepath.Join(tmp, "binaries", "ffmpeg-x86_64-unknown-linux-gnu")
	for _, p := range []string{interpreter, tool} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, script, 0o755); err != nil {
			t.Fatalf("write stub: %v", err)
		}
	}

	statuses := CheckWorker(&resolver.Environment{
		InterpreterPath:    interpreter,
		AuxToolPath:        tool,
		UsesBundledRuntime: true,
	})
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	for _, s := range statuses {
		if !s.Available {
			t.Fatalf("expected %s available, got %q", s.Name, s.Detail)
		}
	}
	if statuses[1].Command != tool {
		t.Fatalf("expected bundled tool %q, got %q", tool, statuses[1].Command)
	}
	if !statuses[1].Optional {
		t.Fatal("codec tool should be optional")
	}
}

func TestCheckWorkerMissingInterpreter(t *testing.T) {
	t.Setenv("PATH", "")
	statuses := CheckWorker(&resolver.Environment{InterpreterPath: "python3"})
	missing := Missing(statuses)
	if len(missing) != 1 || missing[0].Name != "Interpreter" {
		t.Fatalf("expected only the interpreter to be missing, got %#v", missing)
	}
	if statuses[1].Available {
		t.Fatal("expected ffmpeg to be unavailable with empty PATH")
	}
	if statuses[1].Command != "ffmpeg" {
		t.Fatalf("expected bare ffmpeg fallback, got %q", statuses[1].Command)
	}
}

func TestResolveAuxToolPathFallback(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs")
	}
	binDir := t.TempDir()
	ffmpegPath := filepath.Join(binDir, "ffmpeg")
	if err := os.WriteFile(ffmpegPath, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write ffmpeg stub: %v", err)
	}
	t.Setenv("PATH", binDir)

	if got := ResolveAuxTool(&resolver.Environment{}); got != ffmpegPath {
		t.Fatalf("expected %q, got %q", ffmpegPath, got)
	}
	if got := WorkerRequirements(nil); got != nil {
		t.Fatalf("expected nil requirements for nil env, got %#v", got)
	}
}
