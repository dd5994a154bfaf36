package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a dev-only fallback when DB is not configured, and the
// backing store for protocol unit tests.
//
// It honors the same atomicity contract as PostgresStore: Rotate's guard check
// and the family/user bulk revocations each execute under one lock hold.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[string]*Grant
	byID   map[string]*Grant
}

// NewMemoryStore constructs an in-memory grant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]*Grant),
		byID:   make(map[string]*Grant),
	}
}

// Create inserts a new grant row.
func (s *MemoryStore) Create(ctx context.Context, g Grant) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertLocked(g)
}

func (s *MemoryStore) insertLocked(g Grant) error {
	if _, ok := s.byHash[g.TokenHash]; ok {
		return ErrGrantConflict
	}
	cp := g
	s.byHash[cp.TokenHash] = &cp
	s.byID[cp.ID] = &cp
	return nil
}

// GetByTokenHash loads a grant by token hash.
func (s *MemoryStore) GetByTokenHash(ctx context.Context, tokenHash string) (Grant, error) {
	if err := ctx.Err(); err != nil {
		return Grant{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.byHash[tokenHash]
	if !ok {
		return Grant{}, ErrGrantNotFound
	}
	return *g, nil
}

// Rotate revokes the old grant and inserts its successor atomically.
func (s *MemoryStore) Rotate(ctx context.Context, now time.Time, oldID string, successor Grant) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[oldID]
	if !ok {
		return ErrGrantNotFound
	}
	if old.RevokedAt != nil {
		return ErrGrantRevoked
	}
	if err := s.insertLocked(successor); err != nil {
		return err
	}

	t := now
	succID := successor.ID
	reason := ReasonRotation
	old.RevokedAt = &t
	old.LastUsedAt = &t
	old.ReplacedByID = &succID
	old.RevocationReason = &reason
	return nil
}

// RevokeByID revokes one grant scoped to its owner (idempotent).
func (s *MemoryStore) RevokeByID(ctx context.Context, now time.Time, grantID, userID, reason string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.byID[grantID]
	if !ok || g.UserID != userID || g.RevokedAt != nil {
		return false, nil
	}
	revokeLocked(g, now, reason)
	return true, nil
}

// RevokeByTokenHash revokes the grant matching tokenHash, scoped to its owner (idempotent).
func (s *MemoryStore) RevokeByTokenHash(ctx context.Context, now time.Time, tokenHash, userID, reason string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.byHash[tokenHash]
	if !ok || g.UserID != userID || g.RevokedAt != nil {
		return false, nil
	}
	revokeLocked(g, now, reason)
	return true, nil
}

// RevokeFamily revokes every live grant in a family.
func (s *MemoryStore) RevokeFamily(ctx context.Context, now time.Time, familyID, reason string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, g := range s.byID {
		if g.FamilyID == familyID && g.RevokedAt == nil {
			revokeLocked(g, now, reason)
			n++
		}
	}
	return n, nil
}

// RevokeAllForUser revokes every live grant for a user.
func (s *MemoryStore) RevokeAllForUser(ctx context.Context, now time.Time, userID, reason string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, g := range s.byID {
		if g.UserID == userID && g.RevokedAt == nil {
			revokeLocked(g, now, reason)
			n++
		}
	}
	return n, nil
}

// ListActive returns the user's live grants, newest first.
func (s *MemoryStore) ListActive(ctx context.Context, now time.Time, userID string) ([]Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Grant
	for _, g := range s.byID {
		if g.UserID == userID && g.Active(now) {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.After(out[j].IssuedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// DeleteExpiredBefore hard-deletes grants whose expiry predates cutoff.
func (s *MemoryStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for hash, g := range s.byHash {
		if g.ExpiresAt.Before(cutoff) {
			delete(s.byHash, hash)
			delete(s.byID, g.ID)
			n++
		}
	}
	return n, nil
}

func revokeLocked(g *Grant, now time.Time, reason string) {
	t := now
	g.RevokedAt = &t
	if g.RevocationReason == nil {
		r := reason
		g.RevocationReason = &r
	}
}
