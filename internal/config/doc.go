// Package config loads, normalizes, and validates the TOML configuration that
// drives the daemon and CLI.
//
// Load resolves the config path (explicit flag, ~/.config/montage/config.toml,
// then ./montage.toml), fills unset values from Default, expands ~ in paths,
// pulls secrets from the environment, and rejects unusable combinations with
// actionable messages. Other packages receive a fully-resolved *Config and
// never re-read files or environment variables themselves.
package config
