package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestEnvStore(t *testing.T) {
	t.Setenv("TEST_QBO_CLIENT_ID", "  abc  ")
	t.Setenv("TEST_QBO_EMPTY", "")

	store := NewEnvStore("TEST_")
	ctx := context.Background()

	v, err := store.Get(ctx, "QBO_CLIENT_ID")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if v != "abc" {
		t.Errorf("Get() = %q, want %q", v, "abc")
	}

	for _, name := range []string{"QBO_EMPTY", "QBO_MISSING"} {
		if _, err := store.Get(ctx, name); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%s) error = %v, want ErrNotFound", name, err)
		}
	}
}

func TestMapStore(t *testing.T) {
	store := MapStore{"A": "1", "B": ""}
	ctx := context.Background()

	if v, err := store.Get(ctx, "A"); err != nil || v != "1" {
		t.Errorf("Get(A) = %q, %v", v, err)
	}
	if _, err := store.Get(ctx, "B"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(B) error = %v, want ErrNotFound", err)
	}
}

func TestResolve(t *testing.T) {
	store := MapStore{"A": "1", "B": "2"}
	ctx := context.Background()

	got, err := Resolve(ctx, store, "A", "B")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got["A"] != "1" || got["B"] != "2" {
		t.Errorf("Resolve() = %v", got)
	}

	_, err = Resolve(ctx, store, "A", "C", "B")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrNotFound", err)
	}
	if err.Error() != "secret not found: C" {
		t.Errorf("Resolve() error = %q, want name of the missing secret", err.Error())
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := NewRedisStore(client, "")
	ctx := context.Background()

	if err := store.Put(ctx, "QBO_REALM_ID", "9130"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	mr.HSet(DefaultRedisKey, "QBO_EMPTY", "")

	v, err := store.Get(ctx, "QBO_REALM_ID")
	if err != nil || v != "9130" {
		t.Errorf("Get(QBO_REALM_ID) = %q, %v", v, err)
	}
	if _, err := store.Get(ctx, "QBO_MISSING"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, "QBO_EMPTY"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(empty) error = %v, want ErrNotFound", err)
	}

	mr.Close()
	if _, err := store.Get(ctx, "QBO_REALM_ID"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Get() with redis down error = %v, want transport error", err)
	}
}
