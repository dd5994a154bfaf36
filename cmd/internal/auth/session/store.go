package session

import (
	"context"
	"net"
	"time"
)

// Revocation reasons recorded on grants for operator-facing forensics.
const (
	ReasonRotation = "rotation"
	ReasonReuse    = "reuse_detected"
	ReasonLogout   = "logout"
	ReasonSecurity = "security"
)

// DeviceContext describes the client device that owns a session.
// Informational only; never used for authorization decisions.
type DeviceContext struct {
	DeviceInfo string
	IP         net.IP
}

// Grant mirrors one relay.refresh_grants row: a single issued or rotated
// refresh token. A FamilyID links the chain of grants descending from one
// original login; it never changes across rotations.
type Grant struct {
	ID         string
	UserID     string
	FamilyID   string
	TokenHash  string
	DeviceInfo string
	IP         net.IP
	IssuedAt   time.Time
	LastUsedAt *time.Time
	ExpiresAt  time.Time

	// RevokedAt is nil while the grant is live. Set exactly once, never cleared.
	RevokedAt *time.Time

	// ReplacedByID is nil until the grant is rotated; then it holds the row ID
	// of the successor grant. Token material is never duplicated across rows.
	ReplacedByID *string

	RevocationReason *string
}

// Active reports whether the grant is live at the given instant.
func (g Grant) Active(now time.Time) bool {
	return g.RevokedAt == nil && g.ExpiresAt.After(now)
}

// Store abstracts persistence for refresh grants.
//
// The compound operations (Rotate, RevokeFamily, RevokeAllForUser) are single
// methods so implementations can make them atomic: Rotate must be a
// transactional revoke-old + insert-new guarded by "not already revoked", and
// the family/user revocations must be one conditional scoped update, not
// read-then-write per row.
type Store interface {
	// Create inserts a new grant row. The token hash must be unique across all time.
	Create(ctx context.Context, g Grant) error

	// GetByTokenHash loads a grant by its token hash. ErrGrantNotFound when absent.
	GetByTokenHash(ctx context.Context, tokenHash string) (Grant, error)

	// Rotate atomically revokes the grant identified by oldID and inserts its
	// successor. The revocation is guarded by revoked_at IS NULL; if the guard
	// fails (a concurrent rotation won), Rotate returns ErrGrantRevoked and the
	// successor is not inserted.
	Rotate(ctx context.Context, now time.Time, oldID string, successor Grant) error

	// RevokeByID revokes one grant scoped to its owning user. Returns whether a
	// row actually changed; already-revoked or not-owned is false, not an error.
	RevokeByID(ctx context.Context, now time.Time, grantID, userID, reason string) (bool, error)

	// RevokeByTokenHash revokes the grant matching tokenHash, scoped to userID.
	// Idempotent in the same way as RevokeByID.
	RevokeByTokenHash(ctx context.Context, now time.Time, tokenHash, userID, reason string) (bool, error)

	// RevokeFamily revokes every currently-unrevoked grant in a family as one
	// atomic scoped update. Returns the number of grants revoked.
	RevokeFamily(ctx context.Context, now time.Time, familyID, reason string) (int64, error)

	// RevokeAllForUser revokes every currently-unrevoked grant for a user.
	// Returns the number of grants revoked.
	RevokeAllForUser(ctx context.Context, now time.Time, userID, reason string) (int64, error)

	// ListActive returns the user's live grants, newest first.
	ListActive(ctx context.Context, now time.Time, userID string) ([]Grant, error)

	// DeleteExpiredBefore hard-deletes grants whose expiry predates cutoff.
	// Returns the number of rows deleted.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
