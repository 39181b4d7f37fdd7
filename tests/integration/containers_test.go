//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/qbo-backfill/pkg/logging"
	"github.com/Sternrassler/qbo-backfill/pkg/sink"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// setupPostgres creates a Postgres container and returns connection options
// for the given table.
func setupPostgres(t *testing.T, table string) (sink.PostgresOptions, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "etl",
			"POSTGRES_PASSWORD": "etl-secret",
			"POSTGRES_DB":       "warehouse",
		},
		// The server restarts once after init; wait for the second banner.
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	opts := sink.PostgresOptions{
		Host:     host + ":" + port.Port(),
		Database: "warehouse",
		User:     "etl",
		Password: "etl-secret",
		Table:    table,
	}

	cleanup := func() {
		container.Terminate(ctx)
	}

	return opts, cleanup
}

// openPostgresSink connects to opts and creates the table.
func openPostgresSink(t *testing.T, opts sink.PostgresOptions, emitter logging.Emitter) *sink.SQLSink {
	t.Helper()

	ctx := context.Background()
	s, err := sink.OpenPostgres(ctx, opts, emitter)
	if err != nil {
		t.Fatalf("Failed to open Postgres sink: %v", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		s.Close()
		t.Fatalf("Failed to create schema: %v", err)
	}
	return s
}
