package config

const (
	defaultStateDir      = "~/.local/share/harmonix"
	defaultLogDir        = "~/.local/share/harmonix/logs"
	defaultWorkerEntry   = "backend/main.py"
	defaultLogFormat     = "console"
	defaultLogLevel      = "info"
	defaultSocketName    = "harmonix.sock"
	defaultHistoryName   = "history.db"
	defaultHistoryKeep   = 500
	defaultResourceDir   = "resources"
	defaultConfigPath    = "~/.config/harmonix/config.toml"
	defaultProjectConfig = "harmonix.toml"
)

// Worker profile names accepted in [worker].profile.
const (
	ProfileDevelopment = "development"
	ProfileRelease     = "release"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Worker: Worker{
			Entry:      defaultWorkerEntry,
			CloseStdin: true,
		},
		Host: Host{
			HistoryKeep: defaultHistoryKeep,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
