package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateHost(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorker() error {
	if filepath.IsAbs(c.Worker.Entry) {
		return fmt.Errorf("worker.entry must be relative to the search roots, got %q", c.Worker.Entry)
	}
	switch c.Worker.Profile {
	case "", ProfileDevelopment, ProfileRelease:
	default:
		return fmt.Errorf("worker.profile: unsupported value %q (use %q or %q)", c.Worker.Profile, ProfileDevelopment, ProfileRelease)
	}
	if c.Worker.TimeoutSeconds < 0 {
		return errors.New("worker.timeout_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateHost() error {
	if c.Host.HistoryKeep < 0 {
		return errors.New("host.history_keep must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
