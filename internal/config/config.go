// Package config handles configuration loading and validation for the
// fieldsync client.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the complete client configuration.
type Config struct {
	// Server configuration for the remote sync API.
	Server ServerConfig `toml:"server"`

	// Storage configuration for the local database.
	Storage StorageConfig `toml:"storage"`

	// Sync configuration for the push/pull cycle.
	Sync SyncConfig `toml:"sync"`

	// Network configuration for the connectivity monitor.
	Network NetworkConfig `toml:"network"`

	// Collections maps a collection name to its automatic conflict policy.
	// Collections without a policy fall back to manual resolution.
	Collections map[string]CollectionConfig `toml:"collections"`
}

// ServerConfig holds remote API settings.
type ServerConfig struct {
	// URL is the base URL of the sync server.
	URL string `toml:"url"`

	// Token is the device bearer token.
	Token string `toml:"token"`
}

// StorageConfig holds local database settings.
type StorageConfig struct {
	// Path is the path to the local BoltDB database file.
	Path string `toml:"path"`
}

// SyncConfig holds sync cycle settings.
type SyncConfig struct {
	// BatchLimit is the maximum number of operations pushed per cycle.
	BatchLimit int `toml:"batch_limit"`

	// MaxRetries is the transient retry limit before dead-letter.
	MaxRetries int `toml:"max_retries"`

	// BackoffBaseMs is the initial exponential backoff delay in milliseconds.
	BackoffBaseMs int `toml:"backoff_base_ms"`

	// BackoffCapMs is the maximum backoff delay in milliseconds.
	BackoffCapMs int `toml:"backoff_cap_ms"`

	// RequestTimeoutMs is the per-network-call timeout in milliseconds.
	RequestTimeoutMs int `toml:"request_timeout_ms"`
}

// NetworkConfig holds connectivity monitor settings.
type NetworkConfig struct {
	// ProbeIntervalMs is the connectivity probe period in milliseconds.
	ProbeIntervalMs int `toml:"probe_interval_ms"`

	// DebounceMs is the minimum stable-state window in milliseconds.
	// Transitions shorter than the window are treated as flapping.
	DebounceMs int `toml:"debounce_ms"`
}

// CollectionConfig holds per-collection conflict policy.
type CollectionConfig struct {
	// Policy is one of "server", "client", "merge", "manual".
	Policy string `toml:"policy"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL: "http://localhost:8080",
		},
		Storage: StorageConfig{
			Path: "fieldsync-client.db",
		},
		Sync: SyncConfig{
			BatchLimit:       100,
			MaxRetries:       5,
			BackoffBaseMs:    500,
			BackoffCapMs:     30000,
			RequestTimeoutMs: 15000,
		},
		Network: NetworkConfig{
			ProbeIntervalMs: 5000,
			DebounceMs:      2000,
		},
		Collections: make(map[string]CollectionConfig),
	}
}

// Load reads a TOML config file over the defaults.
// A missing file is not an error: defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return errors.New("server.url is required")
	}
	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	if c.Sync.BatchLimit < 0 {
		return errors.New("sync.batch_limit must not be negative")
	}
	if c.Sync.MaxRetries < 0 {
		return errors.New("sync.max_retries must not be negative")
	}
	if c.Sync.BackoffBaseMs < 0 || c.Sync.BackoffCapMs < 0 {
		return errors.New("sync backoff values must not be negative")
	}
	if c.Network.DebounceMs < 0 {
		return errors.New("network.debounce_ms must not be negative")
	}

	for name, col := range c.Collections {
		switch col.Policy {
		case "", "server", "client", "merge", "manual":
		default:
			return fmt.Errorf("collection %q: unknown policy %q", name, col.Policy)
		}
	}

	return nil
}

// BackoffBase returns the backoff base as a duration.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Sync.BackoffBaseMs) * time.Millisecond
}

// BackoffCap returns the backoff cap as a duration.
func (c *Config) BackoffCap() time.Duration {
	return time.Duration(c.Sync.BackoffCapMs) * time.Millisecond
}

// RequestTimeout returns the per-call timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Sync.RequestTimeoutMs) * time.Millisecond
}

// ProbeInterval returns the probe period as a duration.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Network.ProbeIntervalMs) * time.Millisecond
}

// Debounce returns the stable-state window as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Network.DebounceMs) * time.Millisecond
}
