package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/qbo-backfill/pkg/secrets"
)

// Secret names consumed by the run.
const (
	SecretClientID     = "QBO_CLIENT_ID"
	SecretClientSecret = "QBO_CLIENT_SECRET"
	SecretRefreshToken = "QBO_REFRESH_TOKEN"
	SecretRealmID      = "QBO_REALM_ID"

	SecretPostgresHost     = "POSTGRES_HOST"
	SecretPostgresDB       = "POSTGRES_DB"
	SecretPostgresUser     = "POSTGRES_USER"
	SecretPostgresPassword = "POSTGRES_PASSWORD"

	SecretMongoURI = "MONGODB_URI"
)

// APICredentials are the upstream OAuth client and the target company.
type APICredentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	RealmID      string
}

// DatabaseCredentials hold whatever the selected sink driver needs.
type DatabaseCredentials struct {
	Host     string
	Name     string
	User     string
	Password string
	MongoURI string
}

// ResolveAPICredentials reads the four upstream secrets.
func ResolveAPICredentials(ctx context.Context, store secrets.Store) (APICredentials, error) {
	v, err := secrets.Resolve(ctx, store, SecretClientID, SecretClientSecret, SecretRefreshToken, SecretRealmID)
	if err != nil {
		return APICredentials{}, secretError(err)
	}
	return APICredentials{
		ClientID:     v[SecretClientID],
		ClientSecret: v[SecretClientSecret],
		RefreshToken: v[SecretRefreshToken],
		RealmID:      v[SecretRealmID],
	}, nil
}

// ResolveDatabaseCredentials reads the secrets required by driver. SQLite
// needs none.
func ResolveDatabaseCredentials(ctx context.Context, store secrets.Store, driver string) (DatabaseCredentials, error) {
	switch driver {
	case DriverSQLite:
		return DatabaseCredentials{}, nil
	case DriverMongo:
		v, err := secrets.Resolve(ctx, store, SecretMongoURI)
		if err != nil {
			return DatabaseCredentials{}, secretError(err)
		}
		return DatabaseCredentials{MongoURI: v[SecretMongoURI]}, nil
	case DriverPostgres:
		v, err := secrets.Resolve(ctx, store, SecretPostgresHost, SecretPostgresDB, SecretPostgresUser, SecretPostgresPassword)
		if err != nil {
			return DatabaseCredentials{}, secretError(err)
		}
		return DatabaseCredentials{
			Host:     v[SecretPostgresHost],
			Name:     v[SecretPostgresDB],
			User:     v[SecretPostgresUser],
			Password: v[SecretPostgresPassword],
		}, nil
	default:
		return DatabaseCredentials{}, &ConfigError{Field: "sink.driver", Err: fmt.Errorf("unsupported driver %q", driver)}
	}
}

func secretError(err error) error {
	if errors.Is(err, secrets.ErrNotFound) {
		return &ConfigError{Field: "secrets", Err: err}
	}
	return &ConfigError{Field: "secrets", Err: fmt.Errorf("secret store unavailable: %w", err)}
}
