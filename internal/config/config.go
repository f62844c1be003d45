package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains state and log directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Worker describes where the worker process and its runtime live.
type Worker struct {
	// ResourceDir is the bundled resources root. Empty means
	// <executable dir>/resources.
	ResourceDir string `toml:"resource_dir"`
	// WorkDir anchors the development layouts. Empty means the process cwd.
	WorkDir string `toml:"work_dir"`
	// Entry is the worker entry point relative to each search root.
	Entry string `toml:"entry"`
	// Profile selects the runtime fallback policy ("development" or "release").
	// Empty uses the build default.
	Profile string `toml:"profile"`
	// Identity tags worker stderr lines. Empty uses the interpreter name.
	Identity string `toml:"identity"`
	// CloseStdin closes the worker's stdin once the request line is written.
	CloseStdin bool `toml:"close_stdin"`
	// TimeoutSeconds bounds a single invocation. Zero disables the watchdog.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Host contains invocation bookkeeping settings.
type Host struct {
	// LockOutput serializes invocations that target the same output directory.
	LockOutput bool `toml:"lock_output"`
	// HistoryKeep caps the number of invocation records retained.
	HistoryKeep int `toml:"history_keep"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Daemon contains configuration for the long-running host.
type Daemon struct {
	Socket string `toml:"socket"`
}

// Config encapsulates all configuration values for harmonix.
//
// Configuration sections by subsystem:
//   - Paths: state (history, lock, socket) and log directories
//   - Worker: worker resource layout, runtime policy, and stdin handling
//   - Host: invocation bookkeeping
//   - Logging: log format and level
//   - Daemon: IPC socket location
type Config struct {
	Paths   Paths   `toml:"paths"`
	Worker  Worker  `toml:"worker"`
	Host    Host    `toml:"host"`
	Logging Logging `toml:"logging"`
	Daemon  Daemon  `toml:"daemon"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(defaultProjectConfig)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// HistoryPath returns the invocation history database location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, defaultHistoryName)
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "harmonixd.lock")
}

// PIDPath returns the pid file written by a running daemon.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "harmonixd.pid")
}

// SocketPath returns the IPC socket location.
func (c *Config) SocketPath() string {
	if strings.TrimSpace(c.Daemon.Socket) != "" {
		return c.Daemon.Socket
	}
	return filepath.Join(c.Paths.StateDir, defaultSocketName)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// defaultResourceRoot returns <executable dir>/resources, or "" when the
// executable location cannot be determined.
func defaultResourceRoot() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), defaultResourceDir)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
