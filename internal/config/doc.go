// Package config loads, normalizes, and validates harmonix configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// HARMONIX_RESOURCE_DIR. The Config type centralizes every knob the host, the
// daemon, and the CLI need, so worker resource locations and state directories
// are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
