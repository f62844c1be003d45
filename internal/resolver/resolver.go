package resolver

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"harmonix/internal/logging"
)

// Roots anchors every candidate search.
type Roots struct {
	// ResourceDir is the bundled resources root. May be empty.
	ResourceDir string
	// WorkDir anchors the development layouts. Empty means the process cwd.
	WorkDir string
}

// Platform identifies the host the worker will run on.
type Platform struct {
	GOOS   string
	GOARCH string
}

func (p Platform) String() string {
	return p.GOOS + "/" + p.GOARCH
}

// Environment is the outcome of a successful resolution.
type Environment struct {
	// InterpreterPath is an existing interpreter file, or a bare command name
	// when the development profile fell back to the system interpreter.
	InterpreterPath string
	// WorkerEntryPath is the absolute path of the worker script.
	WorkerEntryPath string
	// AuxBinDir is the directory holding bundled auxiliary binaries, if any.
	AuxBinDir string
	// AuxToolPath is the bundled codec tool, if one was found.
	AuxToolPath string
	// RuntimeHome is the interpreter home; empty unless UsesBundledRuntime.
	RuntimeHome        string
	UsesBundledRuntime bool
	Platform           Platform
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithProfile overrides the build profile.
func WithProfile(profile Profile) Option {
	return func(r *Resolver) { r.profile = profile }
}

// WithPlatform overrides the detected platform pair.
func WithPlatform(goos, goarch string) Option {
	return func(r *Resolver) { r.platform = Platform{GOOS: goos, GOARCH: goarch} }
}

// WithEntry overrides the worker entry point relative path.
func WithEntry(entry string) Option {
	return func(r *Resolver) {
		if entry != "" {
			r.entry = entry
		}
	}
}

// WithLookPath overrides the PATH lookup used for the system interpreter.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.lookPath = fn
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// Resolver locates the worker, its interpreter and the aux tool.
type Resolver struct {
	roots    Roots
	entry    string
	profile  Profile
	platform Platform
	lookPath func(string) (string, error)
	getwd    func() (string, error)
	logger   *slog.Logger
}

// DefaultEntry is the worker entry point relative to each search root.
const DefaultEntry = "backend/main.py"

// New constructs a resolver over the provided roots.
func New(roots Roots, opts ...Option) *Resolver {
	r := &Resolver{
		roots:    roots,
		entry:    DefaultEntry,
		profile:  buildProfile,
		platform: Platform{GOOS: runtime.GOOS, GOARCH: runtime.GOARCH},
		lookPath: exec.LookPath,
		getwd:    os.Getwd,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "resolver")
	return r
}

// Resolve produces a complete environment or a *ResolutionError.
func (r *Resolver) Resolve() (*Environment, error) {
	workDir, err := r.WorkDir()
	if err != nil {
		return nil, err
	}

	entry, err := r.resolveEntry(workDir)
	if err != nil {
		return nil, err
	}

	env := &Environment{
		WorkerEntryPath: entry,
		Platform:        r.platform,
	}

	interpreter, bundled, checked := r.findBundledRuntime()
	switch {
	case bundled:
		env.InterpreterPath = interpreter
		env.UsesBundledRuntime = true
		env.RuntimeHome = DeriveRuntimeHome(interpreter)
	case r.profile == ProfileRelease:
		return nil, &ResolutionError{
			Err:     ErrRuntimeMissing,
			Detail:  fmt.Sprintf("run %s to download it", downloadStep),
			Checked: checked,
		}
	default:
		env.InterpreterPath = systemInterpreter
		if _, lookErr := r.lookPath(systemInterpreter); lookErr != nil {
			r.logger.Warn("system interpreter not on PATH",
				logging.String("interpreter", systemInterpreter),
				logging.Error(lookErr),
				logging.String(logging.FieldEventType, "interpreter_lookup_failed"),
				logging.String(logging.FieldErrorHint, "install python3 or run "+downloadStep),
			)
		}
	}

	env.AuxBinDir = r.auxBinDir()
	env.AuxToolPath = r.findAuxTool(workDir)

	r.logger.Debug("worker environment resolved",
		logging.String("interpreter", env.InterpreterPath),
		logging.String("entry", env.WorkerEntryPath),
		logging.String("aux_bin_dir", env.AuxBinDir),
		logging.String("aux_tool", env.AuxToolPath),
		logging.Bool("bundled_runtime", env.UsesBundledRuntime),
		logging.String("platform", r.platform.String()),
	)
	return env, nil
}

// EntryCandidates returns the worker entry candidates in priority order.
func (r *Resolver) EntryCandidates(workDir string) []string {
	candidates := make([]string, 0, 4)
	if r.roots.ResourceDir != "" {
		candidates = append(candidates, filepath.Join(r.roots.ResourceDir, r.entry))
	}
	candidates = append(candidates, filepath.Join(workDir, r.entry))
	if parent := filepath.Dir(workDir); parent != workDir {
		candidates = append(candidates, filepath.Join(parent, r.entry))
	}
	candidates = append(candidates, filepath.FromSlash(r.entry))
	return candidates
}

// RuntimeCandidates returns the bundled interpreter candidates in priority
// order. Legacy layouts contribute only their first existing root.
func (r *Resolver) RuntimeCandidates() []string {
	if r.roots.ResourceDir == "" {
		return nil
	}
	var candidates []string
	for _, layout := range runtimeLayouts {
		root, ok := firstExistingDir(r.roots.ResourceDir, layout.roots)
		if !ok {
			if layout.requireRoot {
				continue
			}
			root = filepath.Join(r.roots.ResourceDir, filepath.FromSlash(layout.roots[0]))
		}
		for _, dir := range layout.dirs {
			for _, sub := range layout.subPaths {
				candidates = append(candidates, filepath.Join(root, dir, filepath.FromSlash(sub)))
			}
		}
	}
	return candidates
}

// WorkDir returns the anchor for development layouts: the configured work
// dir, or the process cwd.
func (r *Resolver) WorkDir() (string, error) {
	if r.roots.WorkDir != "" {
		return filepath.Clean(r.roots.WorkDir), nil
	}
	wd, err := r.getwd()
	if err != nil {
		return "", fmt.Errorf("determine working directory: %w", err)
	}
	return wd, nil
}

func (r *Resolver) resolveEntry(workDir string) (string, error) {
	candidates := r.EntryCandidates(workDir)
	for _, candidate := range candidates {
		if !isFile(candidate) {
			continue
		}
		if abs, err := filepath.Abs(candidate); err == nil {
			return abs, nil
		}
		return candidate, nil
	}
	return "", &ResolutionError{
		Err:     ErrWorkerNotFound,
		Detail:  fmt.Sprintf("unable to locate %s (current dir: %s)", r.entry, workDir),
		Checked: candidates,
	}
}

func (r *Resolver) findBundledRuntime() (string, bool, []string) {
	candidates := r.RuntimeCandidates()
	for _, candidate := range candidates {
		if isFile(candidate) {
			return candidate, true, candidates
		}
	}
	return "", false, candidates
}

// auxBinDir is the first existing legacy bin root, else the unified binaries
// root when it exists.
func (r *Resolver) auxBinDir() string {
	if r.roots.ResourceDir == "" {
		return ""
	}
	for _, layout := range runtimeLayouts {
		if !layout.requireRoot {
			continue
		}
		if root, ok := firstExistingDir(r.roots.ResourceDir, layout.roots); ok {
			return root
		}
	}
	if root, ok := firstExistingDir(r.roots.ResourceDir, []string{unifiedBinariesRoot}); ok {
		return root
	}
	return ""
}

// AuxToolCandidates returns the codec tool candidates in priority order. The
// development checkout location is only consulted by the development profile.
func (r *Resolver) AuxToolCandidates(workDir string) []string {
	name := AuxToolName(r.platform.GOOS, r.platform.GOARCH)
	var candidates []string
	if r.roots.ResourceDir != "" {
		candidates = append(candidates, filepath.Join(r.roots.ResourceDir, unifiedBinariesRoot, name))
	}
	if r.profile == ProfileDevelopment {
		candidates = append(candidates, filepath.Join(workDir, devResourceRoot, unifiedBinariesRoot, name))
	}
	return candidates
}

func (r *Resolver) findAuxTool(workDir string) string {
	for _, candidate := range r.AuxToolCandidates(workDir) {
		if isFile(candidate) {
			return candidate
		}
	}
	return ""
}

func firstExistingDir(base string, roots []string) (string, bool) {
	for _, root := range roots {
		path := filepath.Join(base, filepath.FromSlash(root))
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			return path, true
		}
	}
	return "", false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Field is one name/value row of an environment summary.
type Field struct {
	Name  string
	Value string
}

// Summary lists the resolved locations for display.
func (e *Environment) Summary() []Field {
	runtimeKind := "system"
	if e.UsesBundledRuntime {
		runtimeKind = "bundled"
	}
	return []Field{
		{Name: "interpreter", Value: e.InterpreterPath},
		{Name: "runtime", Value: runtimeKind},
		{Name: "runtime_home", Value: e.RuntimeHome},
		{Name: "worker_entry", Value: e.WorkerEntryPath},
		{Name: "aux_bin_dir", Value: e.AuxBinDir},
		{Name: "aux_tool", Value: e.AuxToolPath},
		{Name: "platform", Value: e.Platform.String()},
	}
}
