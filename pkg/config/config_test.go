package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/qbo-backfill/pkg/secrets"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(PathEnvVar, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.PageSize != 1000 {
		t.Errorf("PageSize = %d, want 1000", cfg.API.PageSize)
	}
	if cfg.API.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.API.MaxAttempts)
	}
	if cfg.API.BackoffBase != time.Second {
		t.Errorf("BackoffBase = %v, want 1s", cfg.API.BackoffBase)
	}
	if cfg.API.Entity != "Customer" {
		t.Errorf("Entity = %q, want Customer", cfg.API.Entity)
	}
	if cfg.Sink.Driver != DriverPostgres || cfg.Sink.Table != "raw.qb_items_backfill" {
		t.Errorf("Sink = %+v", cfg.Sink)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backfill.yaml")
	content := []byte(`
api:
  entity: Item
  page_size: 200
  backoff_base: 250ms
sink:
  driver: sqlite
  table: qb_items
log:
  pretty: true
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("QBO_API_PAGE_SIZE", "50")
	t.Setenv("QBO_SINK_SQLITE_PATH", "/tmp/x.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.Entity != "Item" {
		t.Errorf("Entity = %q, want Item (from file)", cfg.API.Entity)
	}
	if cfg.API.PageSize != 50 {
		t.Errorf("PageSize = %d, want 50 (env wins over file)", cfg.API.PageSize)
	}
	if cfg.API.BackoffBase != 250*time.Millisecond {
		t.Errorf("BackoffBase = %v, want 250ms", cfg.API.BackoffBase)
	}
	if cfg.Sink.Driver != DriverSQLite || cfg.Sink.SQLitePath != "/tmp/x.db" {
		t.Errorf("Sink = %+v", cfg.Sink)
	}
	if !cfg.Log.Pretty {
		t.Error("Log.Pretty should be true from file")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load() error = %v, want *ConfigError", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero page size", func(c *Config) { c.API.PageSize = 0 }, "api.page_size"},
		{"zero attempts", func(c *Config) { c.API.MaxAttempts = 0 }, "api.max_attempts"},
		{"negative pacing", func(c *Config) { c.API.RequestsPerMinute = -1 }, "api.requests_per_minute"},
		{"unknown driver", func(c *Config) { c.Sink.Driver = "dynamodb" }, "sink.driver"},
		{"unknown backend", func(c *Config) { c.Secrets.Backend = "vault" }, "secrets.backend"},
		{"empty table", func(c *Config) { c.Sink.Table = "" }, "sink.table"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.field == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() error = %v, want *ConfigError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestResolveAPICredentials(t *testing.T) {
	ctx := context.Background()
	full := secrets.MapStore{
		SecretClientID:     "id",
		SecretClientSecret: "secret",
		SecretRefreshToken: "refresh",
		SecretRealmID:      "realm",
	}

	creds, err := ResolveAPICredentials(ctx, full)
	if err != nil {
		t.Fatalf("ResolveAPICredentials() error = %v", err)
	}
	if creds.ClientID != "id" || creds.ClientSecret != "secret" || creds.RefreshToken != "refresh" || creds.RealmID != "realm" {
		t.Errorf("creds = %+v", creds)
	}

	delete(full, SecretRefreshToken)
	_, err = ResolveAPICredentials(ctx, full)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
	if !errors.Is(err, secrets.ErrNotFound) {
		t.Errorf("error = %v, want to wrap secrets.ErrNotFound", err)
	}
}

func TestResolveDatabaseCredentials(t *testing.T) {
	ctx := context.Background()
	store := secrets.MapStore{
		SecretPostgresHost:     "db",
		SecretPostgresDB:       "warehouse",
		SecretPostgresUser:     "loader",
		SecretPostgresPassword: "pw",
	}

	creds, err := ResolveDatabaseCredentials(ctx, store, DriverPostgres)
	if err != nil {
		t.Fatalf("postgres: error = %v", err)
	}
	if creds.Host != "db" || creds.Name != "warehouse" {
		t.Errorf("creds = %+v", creds)
	}

	if _, err := ResolveDatabaseCredentials(ctx, store, DriverSQLite); err != nil {
		t.Errorf("sqlite: error = %v, want nil", err)
	}

	_, err = ResolveDatabaseCredentials(ctx, store, DriverMongo)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("mongodb without URI: error = %v, want *ConfigError", err)
	}
}
