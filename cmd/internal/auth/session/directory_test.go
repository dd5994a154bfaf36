package session

import (
	"context"
	"testing"
	"time"
)

func TestDirectory_ListActiveNewestFirst(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	dir := NewDirectory(store)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := svc.IssueSession(ctx, now, "user-1", "r-old", now.Add(time.Hour), DeviceContext{DeviceInfo: "android"}); err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if _, err := svc.IssueSession(ctx, now.Add(time.Minute), "user-1", "r-new", now.Add(time.Hour), DeviceContext{DeviceInfo: "web"}); err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	// Revoked and expired grants stay invisible.
	if _, err := svc.IssueSession(ctx, now.Add(2*time.Minute), "user-1", "r-dead", now.Add(time.Hour), DeviceContext{}); err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if err := svc.Revoke(ctx, now.Add(3*time.Minute), "r-dead", "user-1", ReasonLogout); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.IssueSession(ctx, now.Add(2*time.Minute), "user-1", "r-expired", now.Add(3*time.Minute), DeviceContext{}); err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	views, err := dir.ListActive(ctx, now.Add(5*time.Minute), "user-1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 visible sessions, got %d", len(views))
	}
	if views[0].DeviceInfo != "web" || views[1].DeviceInfo != "android" {
		t.Fatalf("expected newest first, got %q then %q", views[0].DeviceInfo, views[1].DeviceInfo)
	}
}

func TestDirectory_RevokeByID(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	dir := NewDirectory(store)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := svc.IssueSession(ctx, now, "user-1", "r1", now.Add(time.Hour), DeviceContext{}); err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	views, err := dir.ListActive(ctx, now, "user-1")
	if err != nil || len(views) != 1 {
		t.Fatalf("ListActive: %v (%d views)", err, len(views))
	}
	id := views[0].ID

	// Wrong owner: nothing to do, not an error.
	changed, err := dir.RevokeByID(ctx, now, id, "user-2")
	if err != nil {
		t.Fatalf("RevokeByID (wrong owner): %v", err)
	}
	if changed {
		t.Fatalf("foreign session must not be revocable")
	}

	changed, err = dir.RevokeByID(ctx, now, id, "user-1")
	if err != nil {
		t.Fatalf("RevokeByID: %v", err)
	}
	if !changed {
		t.Fatalf("expected revocation to change a row")
	}

	// Second revocation is "nothing to do".
	changed, err = dir.RevokeByID(ctx, now, id, "user-1")
	if err != nil {
		t.Fatalf("RevokeByID (repeat): %v", err)
	}
	if changed {
		t.Fatalf("repeat revocation must report false")
	}

	views, err = dir.ListActive(ctx, now, "user-1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("revoked session still listed")
	}
}
