package deps

import (
	"os/exec"

	"harmonix/internal/resolver"
)

const auxToolFallback = "ffmpeg"

// WorkerRequirements lists the binaries a resolved worker environment needs.
// The interpreter is required. The codec tool is optional because the worker
// can fall back to its own lookup.
func WorkerRequirements(env *resolver.Environment) []Requirement {
	if env == nil {
		return nil
	}
	interpreter := Requirement{
		Name:        "Interpreter",
		Command:     env.InterpreterPath,
		Description: "Runs the conversion worker",
	}
	if env.UsesBundledRuntime {
		interpreter.Description = "Bundled runtime for the conversion worker"
	}
	return []Requirement{
		interpreter,
		{
			Name:        "FFmpeg",
			Command:     ResolveAuxTool(env),
			Description: "Used by the worker for decoding and encoding",
			Optional:    true,
		},
	}
}

// CheckWorker reports availability of the interpreter and codec tool.
func CheckWorker(env *resolver.Environment) []Status {
	return CheckBinaries(WorkerRequirements(env))
}

// ResolveAuxTool reports the codec binary the worker will execute: the bundled
// tool when resolution found one, otherwise ffmpeg from PATH.
func ResolveAuxTool(env *resolver.Environment) string {
	if env != nil && env.AuxToolPath != "" {
		return env.AuxToolPath
	}
	if path, err := exec.LookPath(auxToolFallback); err == nil {
		return path
	}
	return auxToolFallback
}
