// Package config defines service configuration structures and loading hooks.
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/okian/raidsync/internal/adapters/repository"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`
	// MaxBodyBytes bounds compressed and inflated upload sizes.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
	// CORSOrigins lists the origins allowed to call the API.
	CORSOrigins []string `koanf:"cors_origins"`

	// StoreDriver selects the document store: memory, redis or sqlite.
	StoreDriver string `koanf:"store_driver"`
	RedisURL    string `koanf:"redis_url"`
	SQLitePath  string `koanf:"sqlite_path"`

	// RPCURL is the websocket endpoint of the system of record.
	RPCURL         string `koanf:"rpc_url"`
	RPCToken       string `koanf:"rpc_token"`
	RPCTimeoutMS   int    `koanf:"rpc_timeout_ms"`
	RPCMaxPending  int    `koanf:"rpc_max_pending"`
	RPCReconnectMS int    `koanf:"rpc_reconnect_ms"`

	// PendingWindowMS is how long an aggregation accepts merges.
	PendingWindowMS int `koanf:"pending_window_ms"`
	MaxUploaders    int `koanf:"max_uploaders"`
	MaxUploads      int `koanf:"max_uploads"`
	// AdmissionSweep is the cron spec of the stale admission sweep.
	AdmissionSweep string `koanf:"admission_sweep"`

	FinalizeQueueSize int `koanf:"finalize_queue_size"`
	FinalizeWorkers   int `koanf:"finalize_workers"`

	// SigningKey is used when no Redis secrets source is configured.
	SigningKey       string `koanf:"signing_key"`
	SecretsTTLMS     int    `koanf:"secrets_ttl_ms"`
	SecretsCacheSize int    `koanf:"secrets_cache_size"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":9080",
		MaxBodyBytes:      5 << 20,
		CORSOrigins:       []string{"*"},
		StoreDriver:       repository.DriverMemory,
		SQLitePath:        "raidsync.db",
		RPCURL:            "ws://127.0.0.1:9090/rpc",
		RPCTimeoutMS:      5_000,
		RPCMaxPending:     1024,
		RPCReconnectMS:    5_000,
		PendingWindowMS:   15_000,
		MaxUploaders:      8,
		MaxUploads:        8,
		AdmissionSweep:    "@every 1m",
		FinalizeQueueSize: 4096,
		FinalizeWorkers:   runtime.NumCPU() * 2,
		SecretsTTLMS:      60_000,
		SecretsCacheSize:  10_000,
	}
}

// RPCTimeout returns the per-call RPC timeout.
func (c *Config) RPCTimeout() time.Duration { return ms(c.RPCTimeoutMS) }

// RPCReconnectInterval returns the delay between redial attempts.
func (c *Config) RPCReconnectInterval() time.Duration { return ms(c.RPCReconnectMS) }

// PendingWindow returns the aggregation window.
func (c *Config) PendingWindow() time.Duration { return ms(c.PendingWindowMS) }

// SecretsTTL returns how long secrets stay cached.
func (c *Config) SecretsTTL() time.Duration { return ms(c.SecretsTTLMS) }

// StoreSettings returns the document store selection.
func (c *Config) StoreSettings() repository.Settings {
	return repository.Settings{Driver: c.StoreDriver, RedisURL: c.RedisURL, SQLitePath: c.SQLitePath}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.LogFormat != "text" && c.LogFormat != "json":
		return invalid("log_format %q must be text or json", c.LogFormat)
	case c.MaxBodyBytes <= 0:
		return invalid("max_body_bytes must be positive")
	case c.RPCURL == "":
		return invalid("rpc_url must not be empty")
	case c.RPCTimeoutMS <= 0 || c.RPCReconnectMS <= 0:
		return invalid("rpc timeouts must be positive")
	case c.RPCMaxPending <= 0:
		return invalid("rpc_max_pending must be positive")
	case c.PendingWindowMS <= 0:
		return invalid("pending_window_ms must be positive")
	case c.MaxUploaders <= 0 || c.MaxUploads <= 0:
		return invalid("aggregation caps must be positive")
	case c.AdmissionSweep == "":
		return invalid("admission_sweep must not be empty")
	case c.FinalizeQueueSize <= 0:
		return invalid("finalize_queue_size must be positive")
	case c.FinalizeWorkers < 0:
		return invalid("finalize_workers must not be negative")
	case IsWeakToken(c.RPCToken):
		return invalid("rpc_token is too weak")
	}

	switch c.StoreDriver {
	case repository.DriverMemory:
	case repository.DriverRedis:
		if c.RedisURL == "" {
			return invalid("redis_url is required for the redis store")
		}
	case repository.DriverSQLite:
		if c.SQLitePath == "" {
			return invalid("sqlite_path is required for the sqlite store")
		}
	default:
		return invalid("unknown store_driver %q", c.StoreDriver)
	}

	if c.RedisURL == "" {
		if c.SigningKey == "" {
			return invalid("signing_key is required without redis_url")
		}
		if IsWeakToken(c.SigningKey) {
			return invalid("signing_key is too weak")
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
