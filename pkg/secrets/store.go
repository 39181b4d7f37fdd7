// Package secrets provides the CredentialStore capability: named secret
// lookup with a single not-found failure mode, backed by the process
// environment, an in-memory map or a Redis hash.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotFound is returned when a named secret does not exist or is empty.
var ErrNotFound = errors.New("secret not found")

// Store resolves secrets by name.
type Store interface {
	Get(ctx context.Context, name string) (string, error)
}

// notFound wraps ErrNotFound with the secret name.
func notFound(name string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, name)
}

// EnvStore reads secrets from environment variables, optionally prefixed.
type EnvStore struct {
	Prefix string
	lookup func(string) (string, bool)
}

// NewEnvStore returns a Store over the process environment.
func NewEnvStore(prefix string) *EnvStore {
	return &EnvStore{Prefix: prefix, lookup: os.LookupEnv}
}

// Get implements Store.
func (s *EnvStore) Get(_ context.Context, name string) (string, error) {
	lookup := s.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(s.Prefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", notFound(name)
	}
	return strings.TrimSpace(v), nil
}

// MapStore is an in-memory Store.
type MapStore map[string]string

// Get implements Store.
func (m MapStore) Get(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok || v == "" {
		return "", notFound(name)
	}
	return v, nil
}

// Resolve fetches every name from store. It stops at the first failure and
// returns it unchanged so callers can match ErrNotFound.
func Resolve(ctx context.Context, store Store, names ...string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		v, err := store.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}
