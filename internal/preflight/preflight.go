package preflight

import (
	"context"

	"harmonix/internal/backend"
	"harmonix/internal/config"
	"harmonix/internal/resolver"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Prober starts the worker without a request and waits for readiness.
// *backend.Supervisor satisfies it.
type Prober interface {
	Probe(ctx context.Context, env *resolver.Environment) (backend.ProbeResult, error)
}

// RunAll executes every preflight check for the given config. The readiness
// probe is skipped when prober is nil.
func RunAll(ctx context.Context, cfg *config.Config, prober Prober) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	resolution, env := CheckResolution(cfg)
	results = append(results, resolution)
	if env == nil {
		return results
	}

	results = append(results, CheckInterpreter(env))
	results = append(results, CheckRuntimeVersion(ctx, env))
	if prober != nil {
		results = append(results, CheckReadiness(ctx, prober, env))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
