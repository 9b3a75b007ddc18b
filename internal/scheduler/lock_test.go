package scheduler

import (
	"context"
	"testing"
	"time"
)

type fakeStore struct {
	values map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: map[string]string{}}
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, exists := f.values[key]; exists {
		return false, nil
	}
	f.values[key] = value.(string)
	return true, nil
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	return f.values[key], nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.values, key)
	}
	return nil
}

func TestRedisLockAcquireRelease(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	lock, err := NewRedisLock(store, "pfl:lock:scheduler", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}

	ctx := context.Background()
	ok, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok {
		t.Fatalf("expected acquire to win")
	}

	other, err := NewRedisLock(store, "pfl:lock:scheduler", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	ok, err = other.Acquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatalf("expected contention to lose")
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	ok, err = other.Acquire(ctx)
	if err != nil {
		t.Fatalf("third acquire: %v", err)
	}
	if !ok {
		t.Fatalf("expected acquire after release to win")
	}
}

func TestRedisLockReleaseIgnoresForeignOwner(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.values["pfl:lock:scheduler"] = "someone-else"

	lock, err := NewRedisLock(store, "pfl:lock:scheduler", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}

	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, exists := store.values["pfl:lock:scheduler"]; !exists {
		t.Fatalf("foreign lock must not be deleted")
	}
}
