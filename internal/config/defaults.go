package config

import "path/filepath"

// DefaultAddr is the default listen address for the WebSocket server.
// All interfaces, so companion devices on the LAN can reach the host;
// the pairing gate protects unpaired connections.
const DefaultAddr = "0.0.0.0:8765"

// Default values for the sync tunables: a 30 second pairing window, 100
// messages per minute per device, and a 100ms outbound coalescing delay.
const (
	DefaultPairingTimeoutSecs  = 30
	DefaultRateLimitMax        = 100
	DefaultRateLimitWindowSecs = 60
	DefaultBatchDelayMs        = 100
	DefaultPingIntervalSecs    = 30
)

// ApplyDefaults fills in zero-valued fields with their defaults.
// Path fields are resolved relative to dataDir when empty.
func (c *Config) ApplyDefaults(dataDir string) {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.DataDB == "" {
		c.DataDB = filepath.Join(dataDir, "foodie.db")
	}
	if c.DevicesFile == "" {
		c.DevicesFile = filepath.Join(dataDir, "devices.json")
	}
	if c.PairingTimeoutSecs == 0 {
		c.PairingTimeoutSecs = DefaultPairingTimeoutSecs
	}
	if c.RateLimitMax == 0 {
		c.RateLimitMax = DefaultRateLimitMax
	}
	if c.RateLimitWindowSecs == 0 {
		c.RateLimitWindowSecs = DefaultRateLimitWindowSecs
	}
	if c.BatchDelayMs == 0 {
		c.BatchDelayMs = DefaultBatchDelayMs
	}
	if c.PingIntervalSecs == 0 {
		c.PingIntervalSecs = DefaultPingIntervalSecs
	}
}
