package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding the pipeline secrets.
const DefaultRedisKey = "qbo:secrets"

// RedisStore reads secrets from fields of a single Redis hash.
type RedisStore struct {
	redis *redis.Client
	key   string
}

// NewRedisStore creates a RedisStore. An empty key selects DefaultRedisKey.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{redis: client, key: key}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, name string) (string, error) {
	v, err := s.redis.HGet(ctx, s.key, name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", notFound(name)
		}
		return "", fmt.Errorf("redis hget %s: %w", name, err)
	}
	if v == "" {
		return "", notFound(name)
	}
	return v, nil
}

// Put stores a secret. Used by provisioning tooling and tests.
func (s *RedisStore) Put(ctx context.Context, name, value string) error {
	if err := s.redis.HSet(ctx, s.key, name, value).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", name, err)
	}
	return nil
}
