// Package config provides TOML configuration file loading for the sync host.
// The configuration file lives at ~/.foodie-sync/config.toml by default, but
// can be overridden with the --config flag. CLI flags always take precedence
// over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the host configuration file structure.
// Field names map to snake_case keys in the TOML file via struct tags.
type Config struct {
	// Addr is the host:port for the WebSocket server.
	// Default: 0.0.0.0:8765 (LAN access, pairing gate applies)
	Addr string `toml:"addr"`

	// DataDB is the path to the SQLite database backing the Data Service.
	// Default: ~/.foodie-sync/foodie.db
	DataDB string `toml:"data_db"`

	// DevicesFile is the path to the trusted-device registry JSON file.
	// Default: ~/.foodie-sync/devices.json
	DevicesFile string `toml:"devices_file"`

	// PairingTimeoutSecs is how long an untrusted connection may stay open
	// waiting for a correct pairing code before it is closed.
	// Default: 30
	PairingTimeoutSecs int `toml:"pairing_timeout_secs"`

	// RateLimitMax is the message ceiling per device per window.
	// Default: 100
	RateLimitMax int `toml:"rate_limit_max"`

	// RateLimitWindowSecs is the fixed rate-limit window length in seconds.
	// Default: 60
	RateLimitWindowSecs int `toml:"rate_limit_window_secs"`

	// BatchDelayMs is the outbound coalescing delay in milliseconds.
	// Default: 100
	BatchDelayMs int `toml:"batch_delay_ms"`

	// PingIntervalSecs is the WebSocket-level ping interval in seconds.
	// Default: 30
	PingIntervalSecs int `toml:"ping_interval_secs"`

	// Pair generates and displays a pairing code during startup.
	// When true, eliminates the need to run 'foodie-sync pair' separately.
	// Default: false
	Pair bool `toml:"pair"`

	// QR displays the pairing code as a QR code (requires Pair to be true).
	// Default: false
	QR bool `toml:"qr"`
}

// DefaultConfigPath returns the default config file location:
// ~/.foodie-sync/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".foodie-sync", "config.toml"), nil
}

// DefaultDataDir returns the directory holding the host's persistent state:
// ~/.foodie-sync.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".foodie-sync"), nil
}

// WriteDefault creates a config file with LAN-ready defaults at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string) error {
	// Check if file already exists - never overwrite
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, nothing to do
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Build minimal TOML config with LAN-ready defaults.
	// Using a raw string to control formatting exactly.
	content := `# foodie-sync configuration
# Created by 'foodie-sync start'

# Listen on all interfaces so companion devices on the LAN can connect.
# Unpaired devices can only exchange pairing messages.
addr = "0.0.0.0:8765"
`

	// Write with restrictive permissions (owner read/write only)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location
//     (~/.foodie-sync/config.toml). Returns an empty Config without error
//     if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		// No explicit path: try default location, but don't error if missing.
		// This allows the host to start without any config file.
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			// Can't determine home dir, return empty config
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			// Default config doesn't exist, that's fine
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if file doesn't exist.
		// If the user specifies a config file, it should exist.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	// Parse the TOML file. Any parse error is fatal since the user expects
	// the config to be applied.
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}
