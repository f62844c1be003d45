package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"harmonix/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Resource and work directories point at empty temp trees so nothing on the
// host machine leaks into resolution.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Worker.ResourceDir = filepath.Join(base, "resources")
	cfgVal.Worker.WorkDir = filepath.Join(base, "work")
	cfgVal.Worker.Profile = config.ProfileRelease

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, dir := range []string{cfgVal.Worker.ResourceDir, cfgVal.Worker.WorkDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithProfile overrides the worker profile.
func WithProfile(profile string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.Profile = profile
	}
}

// WithTimeout sets the invocation watchdog.
func WithTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.TimeoutSeconds = seconds
	}
}

// WithOutputLock enables per-output-directory locking.
func WithOutputLock() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Host.LockOutput = true
	}
}

// WithWorkerScript lays out a bundled runtime whose worker is the given
// shell script. See BundleLayout.
func WithWorkerScript(script string) ConfigOption {
	return func(b *configBuilder) {
		BundleLayout(b.t, b.cfg.Worker.ResourceDir, script)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
