package session

import (
	"context"
	"sync"
	"time"
)

// MemoryBlocklistStore is the dev/test fallback for BlocklistStore.
type MemoryBlocklistStore struct {
	mu   sync.Mutex
	rows map[string]BlockedToken
}

// NewMemoryBlocklistStore constructs an in-memory blocklist store.
func NewMemoryBlocklistStore() *MemoryBlocklistStore {
	return &MemoryBlocklistStore{rows: make(map[string]BlockedToken)}
}

// Insert persists a blocked token (idempotent on token hash).
func (s *MemoryBlocklistStore) Insert(ctx context.Context, b BlockedToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[b.TokenHash]; !ok {
		s.rows[b.TokenHash] = b
	}
	return nil
}

// LoadActive returns every blocked token that has not yet expired.
func (s *MemoryBlocklistStore) LoadActive(ctx context.Context, now time.Time) ([]BlockedToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []BlockedToken
	for _, b := range s.rows {
		if b.ExpiresAt.After(now) {
			out = append(out, b)
		}
	}
	return out, nil
}

// DeleteExpiredBefore removes rows whose expiry predates cutoff.
func (s *MemoryBlocklistStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, b := range s.rows {
		if b.ExpiresAt.Before(cutoff) {
			delete(s.rows, hash)
			n++
		}
	}
	return n, nil
}
