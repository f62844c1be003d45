package preflight

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"harmonix/internal/config"
	"harmonix/internal/deps"
	"harmonix/internal/host"
	"harmonix/internal/logging"
	"harmonix/internal/resolver"
	"harmonix/internal/workerenv"
)

const (
	versionTimeout = 10 * time.Second
	probeTimeout   = 30 * time.Second
)

var commandContext = exec.CommandContext

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := accessDir(path); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckResolution runs the path resolver from config. The environment is nil
// when resolution failed.
func CheckResolution(cfg *config.Config) (Result, *resolver.Environment) {
	const name = "Worker resolution"

	r, err := host.NewResolver(cfg, logging.NewNop())
	if err != nil {
		return Result{Name: name, Detail: err.Error()}, nil
	}
	env, err := r.Resolve()
	if err != nil {
		return Result{Name: name, Detail: summarizeResolution(err)}, nil
	}
	runtime := "system interpreter"
	if env.UsesBundledRuntime {
		runtime = "bundled runtime"
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", env.WorkerEntryPath, runtime)}, env
}

// CheckInterpreter verifies the interpreter can be executed. Bundled
// interpreters are checked in place; a bare command goes through PATH.
func CheckInterpreter(env *resolver.Environment) Result {
	const name = "Interpreter"

	if !env.UsesBundledRuntime {
		status := deps.CheckBinaries([]deps.Requirement{{Name: name, Command: env.InterpreterPath}})[0]
		if !status.Available {
			return Result{Name: name, Detail: status.Detail}
		}
		return Result{Name: name, Passed: true, Detail: status.Command}
	}
	if err := accessExec(env.InterpreterPath); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not executable: %v)", env.InterpreterPath, err)}
	}
	return Result{Name: name, Passed: true, Detail: env.InterpreterPath}
}

// CheckRuntimeVersion runs the interpreter with --version under the same
// environment a worker would get.
func CheckRuntimeVersion(ctx context.Context, env *resolver.Environment) Result {
	const name = "Runtime version"

	checkCtx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	cmd := commandContext(checkCtx, env.InterpreterPath, "--version")
	cmd.Env = workerenv.Build(os.Environ(), env)
	output, err := cmd.CombinedOutput()
	version := firstLine(output)
	if err != nil {
		if version != "" {
			return Result{Name: name, Detail: fmt.Sprintf("%v: %s", err, version)}
		}
		return Result{Name: name, Detail: err.Error()}
	}
	if version == "" {
		return Result{Name: name, Detail: "no version output"}
	}
	return Result{Name: name, Passed: true, Detail: version}
}

// CheckReadiness starts the worker without a request and expects it to
// report ready.
func CheckReadiness(ctx context.Context, prober Prober, env *resolver.Environment) Result {
	const name = "Worker readiness"

	checkCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	res, err := prober.Probe(checkCtx, env)
	if err != nil {
		if errors.Is(checkCtx.Err(), context.DeadlineExceeded) {
			return Result{Name: name, Detail: fmt.Sprintf("no response within %s", probeTimeout)}
		}
		return Result{Name: name, Detail: err.Error()}
	}
	detail := fmt.Sprintf("%s in %s", res.Status, res.Duration.Round(time.Millisecond))
	if res.Message != "" {
		detail = fmt.Sprintf("%s (%s)", detail, res.Message)
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckSystemDeps reports the interpreter and codec tool for a resolved
// environment. Both the daemon and the doctor command use it.
func CheckSystemDeps(env *resolver.Environment) []deps.Status {
	return deps.CheckWorker(env)
}

// summarizeResolution drops the candidate list so the detail fits one row.
func summarizeResolution(err error) string {
	var resErr *resolver.ResolutionError
	if errors.As(err, &resErr) {
		msg := resErr.Err.Error()
		if resErr.Detail != "" {
			msg += ": " + resErr.Detail
		}
		return fmt.Sprintf("%s (%d paths checked)", msg, len(resErr.Checked))
	}
	return err.Error()
}

func firstLine(output []byte) string {
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line
		}
	}
	return ""
}
