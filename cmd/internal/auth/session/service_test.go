package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"relay/cmd/security/token"
)

func mustHash(t *testing.T, tokenID string) string {
	t.Helper()
	return token.HashTokenHex(tokenID)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(DefaultConfig(), testLogger(), store, nil)
	return svc, store
}

func activeCount(t *testing.T, store *MemoryStore, now time.Time, userID string) int {
	t.Helper()
	grants, err := store.ListActive(context.Background(), now, userID)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	return len(grants)
}

func TestIssueSession_CreatesFirstGrant(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	familyID, err := svc.IssueSession(ctx, now, "user-1", "refresh-1", now.Add(time.Hour), DeviceContext{DeviceInfo: "firefox/linux"})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if familyID == "" {
		t.Fatalf("expected non-empty familyID")
	}

	grants, err := store.ListActive(ctx, now, "user-1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("expected 1 active grant, got %d", len(grants))
	}
	g := grants[0]
	if g.FamilyID != familyID {
		t.Fatalf("familyID mismatch: %q vs %q", g.FamilyID, familyID)
	}
	if g.RevokedAt != nil || g.ReplacedByID != nil {
		t.Fatalf("fresh grant must not be revoked or replaced")
	}
	if g.DeviceInfo != "firefox/linux" {
		t.Fatalf("device info not recorded: %q", g.DeviceInfo)
	}
}

func TestIssueSession_RejectsEmptyTokenID(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	now := time.Now().UTC()

	if _, err := svc.IssueSession(context.Background(), now, "user-1", "   ", now.Add(time.Hour), DeviceContext{}); !errors.Is(err, ErrGrantNotFound) {
		t.Fatalf("expected ErrGrantNotFound for blank token id, got %v", err)
	}
}

func TestRotate_Succeeds(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	familyID, err := svc.IssueSession(ctx, now, "user-1", "refresh-1", now.Add(time.Hour), DeviceContext{DeviceInfo: "ios"})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	res, err := svc.Rotate(ctx, now.Add(time.Minute), "refresh-1", "refresh-2", now.Add(2*time.Hour), "user-1")
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if res.FamilyID != familyID {
		t.Fatalf("rotation must stay in family %q, got %q", familyID, res.FamilyID)
	}

	grants, err := store.ListActive(ctx, now.Add(time.Minute), "user-1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("expected exactly 1 active grant after rotation, got %d", len(grants))
	}
	succ := grants[0]
	if succ.ID != res.GrantID {
		t.Fatalf("active grant should be the successor")
	}
	if succ.FamilyID != familyID {
		t.Fatalf("successor left the family")
	}
	if succ.DeviceInfo != "ios" {
		t.Fatalf("successor must inherit device info, got %q", succ.DeviceInfo)
	}

	old, err := store.GetByTokenHash(ctx, mustHash(t, "refresh-1"))
	if err != nil {
		t.Fatalf("GetByTokenHash(old): %v", err)
	}
	if old.RevokedAt == nil {
		t.Fatalf("old grant must be revoked")
	}
	if old.ReplacedByID == nil || *old.ReplacedByID != succ.ID {
		t.Fatalf("old grant must point at successor, got %+v", old.ReplacedByID)
	}
}

func TestRotate_UnknownToken(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	now := time.Now().UTC()

	_, err := svc.Rotate(context.Background(), now, "never-issued", "next", now.Add(time.Hour), "user-1")
	if !errors.Is(err, ErrGrantNotFound) {
		t.Fatalf("expected ErrGrantNotFound, got %v", err)
	}
}

func TestRotate_PrincipalMismatch_NoSideEffects(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := svc.IssueSession(ctx, now, "user-1", "refresh-1", now.Add(time.Hour), DeviceContext{}); err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	_, err := svc.Rotate(ctx, now, "refresh-1", "refresh-2", now.Add(time.Hour), "user-2")
	if !errors.Is(err, ErrPrincipalMismatch) {
		t.Fatalf("expected ErrPrincipalMismatch, got %v", err)
	}

	// The grant must remain untouched: rejection without side effects.
	if n := activeCount(t, store, now, "user-1"); n != 1 {
		t.Fatalf("expected grant to stay active, got %d active", n)
	}
}

func TestRotate_ExpiredGrant(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := svc.IssueSession(ctx, now, "user-1", "refresh-1", now.Add(time.Minute), DeviceContext{}); err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	_, err := svc.Rotate(ctx, now.Add(2*time.Minute), "refresh-1", "refresh-2", now.Add(time.Hour), "user-1")
	if !errors.Is(err, ErrGrantExpired) {
		t.Fatalf("expected ErrGrantExpired, got %v", err)
	}
}

func TestRotate_ReplayRevokesWholeFamily(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Login creates family F with grant G1.
	familyID, err := svc.IssueSession(ctx, now, "user-1", "refresh-1", now.Add(time.Hour), DeviceContext{})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	// Legitimate rotation: G1 -> G2.
	if _, err := svc.Rotate(ctx, now.Add(time.Minute), "refresh-1", "refresh-2", now.Add(2*time.Hour), "user-1"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	// Attacker replays G1.
	_, err = svc.Rotate(ctx, now.Add(2*time.Minute), "refresh-1", "refresh-3", now.Add(2*time.Hour), "user-1")
	if !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected, got %v", err)
	}

	// The whole family is dead, including the legitimate G2.
	if n := activeCount(t, store, now.Add(2*time.Minute), "user-1"); n != 0 {
		t.Fatalf("expected zero active grants after reuse, got %d", n)
	}

	g2, err := store.GetByTokenHash(ctx, mustHash(t, "refresh-2"))
	if err != nil {
		t.Fatalf("GetByTokenHash(G2): %v", err)
	}
	if g2.RevokedAt == nil {
		t.Fatalf("G2 must be revoked after reuse of G1")
	}
	if g2.FamilyID != familyID {
		t.Fatalf("G2 family mismatch")
	}

	// The legitimate client's next refresh with G2 now fails too, forcing re-login.
	_, err = svc.Rotate(ctx, now.Add(3*time.Minute), "refresh-2", "refresh-4", now.Add(2*time.Hour), "user-1")
	if !errors.Is(err, ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected for revoked G2, got %v", err)
	}
}

func TestRotate_ConcurrentRaceRevokesConservatively(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := svc.IssueSession(ctx, now, "user-1", "refresh-1", now.Add(time.Hour), DeviceContext{}); err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	results := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			defer wg.Done()
			newID := "refresh-race-a"
			if i == 1 {
				newID = "refresh-race-b"
			}
			_, err := svc.Rotate(ctx, now.Add(time.Second), "refresh-1", newID, now.Add(2*time.Hour), "user-1")
			results[i] = err
		}(i)
	}
	wg.Wait()

	var succeeded, reuse int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrReuseDetected):
			reuse++
		default:
			t.Fatalf("unexpected rotation error: %v", err)
		}
	}
	if succeeded != 1 || reuse != 1 {
		t.Fatalf("expected exactly one winner and one reuse detection, got success=%d reuse=%d", succeeded, reuse)
	}

	// The loser's family-wide revocation also kills the winner's successor.
	if n := activeCount(t, store, now.Add(time.Second), "user-1"); n != 0 {
		t.Fatalf("expected zero active grants after racing rotations, got %d", n)
	}
}

func TestRevoke_Idempotent(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := svc.IssueSession(ctx, now, "user-1", "refresh-1", now.Add(time.Hour), DeviceContext{}); err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	if err := svc.Revoke(ctx, now, "refresh-1", "user-1", ReasonLogout); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := svc.Revoke(ctx, now.Add(time.Second), "refresh-1", "user-1", ReasonLogout); err != nil {
		t.Fatalf("second Revoke must be a no-op, got %v", err)
	}

	g, err := store.GetByTokenHash(ctx, mustHash(t, "refresh-1"))
	if err != nil {
		t.Fatalf("GetByTokenHash: %v", err)
	}
	if g.RevokedAt == nil || !g.RevokedAt.Equal(now) {
		t.Fatalf("revoked_at must be set exactly once, got %v", g.RevokedAt)
	}
}

func TestRevokeAllForUser_ReturnsCount(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"r1", "r2", "r3"} {
		if _, err := svc.IssueSession(ctx, now, "user-1", id, now.Add(time.Hour), DeviceContext{}); err != nil {
			t.Fatalf("IssueSession(%s): %v", id, err)
		}
	}
	if _, err := svc.IssueSession(ctx, now, "user-2", "other", now.Add(time.Hour), DeviceContext{}); err != nil {
		t.Fatalf("IssueSession(other): %v", err)
	}

	n, err := svc.RevokeAllForUser(ctx, now, "user-1")
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 sessions terminated, got %d", n)
	}
	if c := activeCount(t, store, now, "user-1"); c != 0 {
		t.Fatalf("expected zero active grants for user-1, got %d", c)
	}
	if c := activeCount(t, store, now, "user-2"); c != 1 {
		t.Fatalf("user-2 must be untouched, got %d active", c)
	}

	// Repeat terminates nothing.
	n, err = svc.RevokeAllForUser(ctx, now.Add(time.Second), "user-1")
	if err != nil {
		t.Fatalf("RevokeAllForUser (repeat): %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 on repeat, got %d", n)
	}
}
