// Package config loads the backfill configuration from struct defaults, an
// optional YAML file and the environment, and resolves the named secrets
// the run needs before any network call is made.
package config

import (
	"fmt"
	"time"
)

// Config is the complete runtime configuration.
type Config struct {
	API     APIConfig     `koanf:"api"`
	Secrets SecretsConfig `koanf:"secrets"`
	Sink    SinkConfig    `koanf:"sink"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// APIConfig describes the upstream query API and the paging/retry policy.
type APIConfig struct {
	BaseURL           string        `koanf:"base_url"`
	TokenURL          string        `koanf:"token_url"`
	MinorVersion      int           `koanf:"minor_version"`
	Entity            string        `koanf:"entity"`
	PageSize          int           `koanf:"page_size"`
	MaxAttempts       int           `koanf:"max_attempts"`
	BackoffBase       time.Duration `koanf:"backoff_base"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	RequestsPerMinute int           `koanf:"requests_per_minute"`
}

// SecretsConfig selects the CredentialStore backend.
type SecretsConfig struct {
	Backend       string `koanf:"backend"` // "env" or "redis"
	Prefix        string `koanf:"prefix"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisKey      string `koanf:"redis_key"`
}

// SinkConfig selects and parameterises the upsert sink.
type SinkConfig struct {
	Driver        string `koanf:"driver"` // "postgres", "sqlite" or "mongodb"
	Table         string `koanf:"table"`
	SSLMode       string `koanf:"sslmode"`
	SQLitePath    string `koanf:"sqlite_path"`
	MongoDatabase string `koanf:"mongo_database"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// MetricsConfig controls Prometheus exposition during a run.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// Sink drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongodb"
)

// Secret backends.
const (
	BackendEnv   = "env"
	BackendRedis = "redis"
)

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:           "https://sandbox-quickbooks.api.intuit.com",
			TokenURL:          "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer",
			MinorVersion:      65,
			Entity:            "Customer",
			PageSize:          1000,
			MaxAttempts:       5,
			BackoffBase:       time.Second,
			RequestTimeout:    30 * time.Second,
			RequestsPerMinute: 500,
		},
		Secrets: SecretsConfig{
			Backend:   BackendEnv,
			RedisAddr: "localhost:6379",
			RedisKey:  "qbo:secrets",
		},
		Sink: SinkConfig{
			Driver:        DriverPostgres,
			Table:         "raw.qb_items_backfill",
			SSLMode:       "disable",
			SQLitePath:    "./data/qbo_backfill.db",
			MongoDatabase: "raw",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks settings that would otherwise fail mid-run.
func (c *Config) Validate() error {
	switch {
	case c.API.BaseURL == "":
		return &ConfigError{Field: "api.base_url", Err: fmt.Errorf("required")}
	case c.API.TokenURL == "":
		return &ConfigError{Field: "api.token_url", Err: fmt.Errorf("required")}
	case c.API.Entity == "":
		return &ConfigError{Field: "api.entity", Err: fmt.Errorf("required")}
	case c.API.PageSize <= 0:
		return &ConfigError{Field: "api.page_size", Err: fmt.Errorf("must be > 0 (got %d)", c.API.PageSize)}
	case c.API.MaxAttempts <= 0:
		return &ConfigError{Field: "api.max_attempts", Err: fmt.Errorf("must be > 0 (got %d)", c.API.MaxAttempts)}
	case c.API.BackoffBase < 0:
		return &ConfigError{Field: "api.backoff_base", Err: fmt.Errorf("must not be negative")}
	case c.API.RequestsPerMinute < 0:
		return &ConfigError{Field: "api.requests_per_minute", Err: fmt.Errorf("must not be negative")}
	}

	switch c.Secrets.Backend {
	case BackendEnv, BackendRedis:
	default:
		return &ConfigError{Field: "secrets.backend", Err: fmt.Errorf("unsupported backend %q", c.Secrets.Backend)}
	}

	switch c.Sink.Driver {
	case DriverPostgres, DriverSQLite, DriverMongo:
	default:
		return &ConfigError{Field: "sink.driver", Err: fmt.Errorf("unsupported driver %q", c.Sink.Driver)}
	}
	if c.Sink.Table == "" {
		return &ConfigError{Field: "sink.table", Err: fmt.Errorf("required")}
	}

	return nil
}
