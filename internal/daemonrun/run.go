package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"harmonix/internal/config"
	"harmonix/internal/daemon"
	"harmonix/internal/history"
	"harmonix/internal/host"
	"harmonix/internal/ipc"
	"harmonix/internal/logging"
	"harmonix/internal/preflight"
	"harmonix/internal/progress"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// SocketPath overrides the configured socket.
	SocketPath string
	// Ready, when set, is called once the IPC server accepts connections.
	Ready func(socketPath string)
}

// Run starts the harmonix daemon and blocks until ctx ends or the process
// receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("harmonixd-%s.log", runID))

	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update harmonixd.log link: %v\n", err)
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	logDependencySnapshot(logger, cfg)

	store, err := history.Open(cfg)
	if err != nil {
		logger.Error("open history store", logging.Error(err))
		return err
	}

	svc := host.New(cfg,
		host.WithLogger(logger),
		host.WithHistory(store),
		host.WithHub(progress.NewHub(0)),
	)
	d, err := daemon.New(cfg, svc, store, logger, daemon.WithProber(host.NewSupervisor(cfg, logger)))
	if err != nil {
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	socketPath := strings.TrimSpace(opts.SocketPath)
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}

	// Take the lock before touching the socket so a second instance cannot
	// unlink a live daemon's socket.
	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()
	logger.Info("harmonix daemon listening",
		logging.String(logging.FieldEventType, "daemon_listening"),
		logging.String("socket", socketPath),
		logging.String("log", logPath),
	)
	if opts.Ready != nil {
		opts.Ready(socketPath)
	}

	<-signalCtx.Done()
	logger.Info("harmonix daemon shutting down")
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "harmonixd.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	result, env := preflight.CheckResolution(cfg)
	if env == nil {
		logging.WarnWithContext(logger, "worker not resolvable at startup", "dependency_snapshot",
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "set worker.resource_dir or run scripts/download-binaries.sh"),
			logging.String(logging.FieldImpact, "conversion requests will be rejected"),
		)
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("profile", cfg.Worker.Profile),
	}
	for _, field := range env.Summary() {
		attrs = append(attrs, logging.String(field.Name, field.Value))
	}
	for _, status := range preflight.CheckSystemDeps(env) {
		attrs = append(attrs, logging.Bool(strings.ToLower(status.Name)+"_available", status.Available))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
