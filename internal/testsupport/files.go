package testsupport

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"harmonix/internal/resolver"
)

// WriteExecutable writes content to path with execute permissions.
func WriteExecutable(t testing.TB, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

const bundleShim = `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "Python 3.12.7"
  exit 0
fi
exec /bin/sh "$@"
`

// Bundle describes a fake resources tree produced by BundleLayout.
type Bundle struct {
	Interpreter string
	Entry       string
	AuxTool     string
}

// BundleLayout creates a bundled runtime under resourceDir whose interpreter
// is a POSIX shell shim answering --version, so the worker entry can be a shell script that speaks
// the line protocol. Tests using it need /bin/sh.
func BundleLayout(t testing.TB, resourceDir, workerScript string) Bundle {
	t.Helper()
	interpreter := WriteExecutable(t,
		filepath.Join(resourceDir, "binaries", "python-x86_64-unknown-linux-gnu", "bin", "python3"),
		bundleShim,
	)
	entry := WriteExecutable(t, filepath.Join(resourceDir, "backend", "main.py"), "#!/bin/sh\n"+workerScript)
	auxName := resolver.AuxToolName(runtime.GOOS, runtime.GOARCH)
	aux := WriteExecutable(t, filepath.Join(resourceDir, "binaries", auxName), "#!/bin/sh\nexit 0\n")
	return Bundle{Interpreter: interpreter, Entry: entry, AuxTool: aux}
}
