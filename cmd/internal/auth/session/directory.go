package session

import (
	"context"
	"net"
	"time"
)

// SessionView is the user-facing projection of one live grant, exposed by the
// "manage your devices" surface. Rotated and revoked grants stay forensic-only.
type SessionView struct {
	ID         string     `json:"id"`
	FamilyID   string     `json:"family_id"`
	DeviceInfo string     `json:"device_info,omitempty"`
	IP         net.IP     `json:"ip,omitempty"`
	IssuedAt   time.Time  `json:"issued_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// Directory is the read/management layer over a user's active sessions.
type Directory struct {
	store Store
}

// NewDirectory constructs a Directory over the given store.
func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

// ListActive returns every live session for the user, newest first.
func (d *Directory) ListActive(ctx context.Context, now time.Time, userID string) ([]SessionView, error) {
	grants, err := d.store.ListActive(ctx, now, userID)
	if err != nil {
		return nil, err
	}

	out := make([]SessionView, 0, len(grants))
	for _, g := range grants {
		out = append(out, SessionView{
			ID:         g.ID,
			FamilyID:   g.FamilyID,
			DeviceInfo: g.DeviceInfo,
			IP:         g.IP,
			IssuedAt:   g.IssuedAt,
			LastUsedAt: g.LastUsedAt,
			ExpiresAt:  g.ExpiresAt,
		})
	}
	return out, nil
}

// RevokeByID revokes one session by its durable row identity, scoped to the
// owning user. Returns whether a row actually changed; already-revoked or
// not-owned is "nothing to do", never an error.
func (d *Directory) RevokeByID(ctx context.Context, now time.Time, grantID, userID string) (bool, error) {
	return d.store.RevokeByID(ctx, now, grantID, userID, ReasonLogout)
}
