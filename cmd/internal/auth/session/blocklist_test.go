package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBlocklist_AddThenIsRevoked(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	b := NewBlocklist(NewMemoryBlocklistStore(), testLogger(), nil)

	if b.IsRevoked(now, "access-1") {
		t.Fatalf("unknown token must not be revoked")
	}

	if err := b.Add(ctx, now, "access-1", "user-1", now.Add(15*time.Minute)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !b.IsRevoked(now, "access-1") {
		t.Fatalf("expected token revoked immediately after Add")
	}

	// Strictly after expiry the entry no longer applies and is evicted lazily.
	if b.IsRevoked(now.Add(16*time.Minute), "access-1") {
		t.Fatalf("expired entry must not count as revoked")
	}
	if b.Len() != 0 {
		t.Fatalf("expected lazy eviction, %d entries left", b.Len())
	}
}

func TestBlocklist_AddExpiredIsNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	store := NewMemoryBlocklistStore()
	b := NewBlocklist(store, testLogger(), nil)

	if err := b.Add(ctx, now, "access-1", "user-1", now.Add(-time.Second)); err != nil {
		t.Fatalf("Add of expired token must be a no-op, got %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("expired token must not be cached")
	}
	rows, err := store.LoadActive(ctx, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("LoadActive: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expired token must not be persisted")
	}
}

type failingBlocklistStore struct{}

func (failingBlocklistStore) Insert(context.Context, BlockedToken) error { return errFailingStore }
func (failingBlocklistStore) LoadActive(context.Context, time.Time) ([]BlockedToken, error) {
	return nil, errFailingStore
}
func (failingBlocklistStore) DeleteExpiredBefore(context.Context, time.Time) (int64, error) {
	return 0, errFailingStore
}

var errFailingStore = errors.New("store down")

func TestBlocklist_DurableWriteFailurePropagates(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	b := NewBlocklist(failingBlocklistStore{}, testLogger(), nil)

	err := b.Add(context.Background(), now, "access-1", "user-1", now.Add(time.Minute))
	if !errors.Is(err, errFailingStore) {
		t.Fatalf("expected durable-write failure to propagate, got %v", err)
	}
	// A failed Add must not leave a phantom in-memory revocation the durable
	// set does not know about.
	if b.Len() != 0 {
		t.Fatalf("failed Add must not populate the cache")
	}
}

func TestBlocklist_HydrateSurvivesRestart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	store := NewMemoryBlocklistStore()

	first := NewBlocklist(store, testLogger(), nil)
	if err := first.Add(ctx, now, "access-1", "user-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := first.Add(ctx, now, "access-2", "user-1", now.Add(time.Millisecond)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Process restart: a fresh cache over the same durable set.
	second := NewBlocklist(store, testLogger(), nil)
	if err := second.Hydrate(ctx, now.Add(time.Second)); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	if !second.IsRevoked(now.Add(time.Second), "access-1") {
		t.Fatalf("revocation must survive restart via hydration")
	}
	if second.IsRevoked(now.Add(time.Second), "access-2") {
		t.Fatalf("expired rows must not be hydrated")
	}
}

func TestBlocklist_Sweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	store := NewMemoryBlocklistStore()
	b := NewBlocklist(store, testLogger(), nil)

	if err := b.Add(ctx, now, "short", "user-1", now.Add(time.Second)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := b.Add(ctx, now, "long", "user-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	deleted, err := b.Sweep(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 durable row deleted, got %d", deleted)
	}
	if b.Len() != 1 {
		t.Fatalf("expected 1 cache entry left, got %d", b.Len())
	}
	if !b.IsRevoked(now.Add(time.Minute), "long") {
		t.Fatalf("unexpired entry must survive the sweep")
	}
}
