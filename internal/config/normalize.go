package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeWorker(); err != nil {
		return err
	}
	if err := c.normalizeDaemon(); err != nil {
		return err
	}
	c.normalizeHost()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorker() error {
	var err error
	c.Worker.ResourceDir = strings.TrimSpace(c.Worker.ResourceDir)
	if c.Worker.ResourceDir == "" {
		if value, ok := os.LookupEnv("HARMONIX_RESOURCE_DIR"); ok {
			c.Worker.ResourceDir = strings.TrimSpace(value)
		}
	}
	if c.Worker.ResourceDir == "" {
		c.Worker.ResourceDir = defaultResourceRoot()
	}
	if c.Worker.ResourceDir, err = expandPath(c.Worker.ResourceDir); err != nil {
		return fmt.Errorf("worker.resource_dir: %w", err)
	}

	c.Worker.WorkDir = strings.TrimSpace(c.Worker.WorkDir)
	if c.Worker.WorkDir != "" {
		if c.Worker.WorkDir, err = expandPath(c.Worker.WorkDir); err != nil {
			return fmt.Errorf("worker.work_dir: %w", err)
		}
	}

	c.Worker.Entry = strings.TrimSpace(c.Worker.Entry)
	if c.Worker.Entry == "" {
		c.Worker.Entry = defaultWorkerEntry
	}

	c.Worker.Profile = strings.ToLower(strings.TrimSpace(c.Worker.Profile))
	if c.Worker.Profile == "" {
		if value, ok := os.LookupEnv("HARMONIX_PROFILE"); ok {
			c.Worker.Profile = strings.ToLower(strings.TrimSpace(value))
		}
	}
	switch c.Worker.Profile {
	case "dev", "debug":
		c.Worker.Profile = ProfileDevelopment
	}

	c.Worker.Identity = strings.TrimSpace(c.Worker.Identity)
	return nil
}

func (c *Config) normalizeDaemon() error {
	c.Daemon.Socket = strings.TrimSpace(c.Daemon.Socket)
	if c.Daemon.Socket == "" {
		return nil
	}
	var err error
	if c.Daemon.Socket, err = expandPath(c.Daemon.Socket); err != nil {
		return fmt.Errorf("daemon.socket: %w", err)
	}
	return nil
}

func (c *Config) normalizeHost() {
	if c.Host.HistoryKeep == 0 {
		c.Host.HistoryKeep = defaultHistoryKeep
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
