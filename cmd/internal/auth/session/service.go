package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"relay/cmd/security/token"

	"github.com/oklog/ulid/v2"
)

// Service implements the refresh-grant lifecycle for Relay: issuing session
// families, rotate-on-use with reuse detection, and per-grant/per-user
// revocation.
//
// Callers supply opaque token identifiers minted by the credential-issuance
// flow; the Service only ever sees and stores their hashes.
type Service struct {
	cfg     Config
	log     *slog.Logger
	store   Store
	metrics *Metrics
}

// RotationResult is the outcome of a successful refresh rotation.
type RotationResult struct {
	FamilyID string
	GrantID  string
}

// NewService constructs a Service with the provided configuration and store.
// Metrics may be nil.
func NewService(cfg Config, log *slog.Logger, store Store, metrics *Metrics) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, log: log, store: store, metrics: metrics}
}

func (s *Service) tokenHash(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > s.cfg.MaxTokenIDBytes {
		return "", false
	}
	return token.HashTokenHex(id), true
}

// IssueSession records the first grant of a fresh family at login time and
// returns the family ID.
func (s *Service) IssueSession(ctx context.Context, now time.Time, userID, refreshTokenID string, expiresAt time.Time, dev DeviceContext) (string, error) {
	hash, ok := s.tokenHash(refreshTokenID)
	if !ok {
		return "", ErrGrantNotFound
	}

	familyID := ulid.Make().String()
	g := Grant{
		ID:         ulid.Make().String(),
		UserID:     userID,
		FamilyID:   familyID,
		TokenHash:  hash,
		DeviceInfo: dev.DeviceInfo,
		IP:         dev.IP,
		IssuedAt:   now,
		ExpiresAt:  expiresAt,
	}
	if err := s.store.Create(ctx, g); err != nil {
		return "", err
	}

	s.log.Info("session.issued", "user_id", userID, "family_id", familyID)
	return familyID, nil
}

// Rotate performs refresh rotation with reuse detection.
//
// Security model:
//   - A grant that is already revoked and presented again is treated as reuse:
//     every live grant in its family is revoked in one atomic scoped update and
//     ErrReuseDetected is returned.
//   - The revoke-old + insert-new pair is a single atomic store operation
//     guarded by "not already revoked", so two racing rotations of one grant
//     resolve to exactly one winner; the loser falls into the reuse path.
func (s *Service) Rotate(ctx context.Context, now time.Time, oldTokenID, newTokenID string, newExpiresAt time.Time, userID string) (RotationResult, error) {
	oldHash, ok := s.tokenHash(oldTokenID)
	if !ok {
		s.metrics.rotation("not_found")
		return RotationResult{}, ErrGrantNotFound
	}
	newHash, ok := s.tokenHash(newTokenID)
	if !ok {
		s.metrics.rotation("not_found")
		return RotationResult{}, ErrGrantNotFound
	}

	g, err := s.store.GetByTokenHash(ctx, oldHash)
	if errors.Is(err, ErrGrantNotFound) {
		s.metrics.rotation("not_found")
		return RotationResult{}, ErrGrantNotFound
	}
	if err != nil {
		s.metrics.rotation("store_error")
		return RotationResult{}, err
	}

	if g.UserID != userID {
		// Possible token confusion or forged identity claim. No side effects.
		s.log.Warn("session.rotate.principal_mismatch",
			"user_id", userID, "grant_user_id", g.UserID, "family_id", g.FamilyID)
		s.metrics.rotation("principal_mismatch")
		return RotationResult{}, ErrPrincipalMismatch
	}

	if g.RevokedAt != nil {
		return RotationResult{}, s.reuseDetected(ctx, now, g)
	}

	if !g.ExpiresAt.After(now) {
		s.metrics.rotation("expired")
		return RotationResult{}, ErrGrantExpired
	}

	successor := Grant{
		ID:         ulid.Make().String(),
		UserID:     g.UserID,
		FamilyID:   g.FamilyID,
		TokenHash:  newHash,
		DeviceInfo: g.DeviceInfo,
		IP:         g.IP,
		IssuedAt:   now,
		ExpiresAt:  newExpiresAt,
	}

	err = s.store.Rotate(ctx, now, g.ID, successor)
	if errors.Is(err, ErrGrantRevoked) {
		// Lost a race against a concurrent rotation of the same grant. Treated
		// conservatively as compromise: only one of the two callers can be the
		// legitimate client.
		return RotationResult{}, s.reuseDetected(ctx, now, g)
	}
	if err != nil {
		s.metrics.rotation("store_error")
		return RotationResult{}, err
	}

	s.metrics.rotation("rotated")
	return RotationResult{FamilyID: g.FamilyID, GrantID: successor.ID}, nil
}

// reuseDetected revokes the whole family and reports the incident.
func (s *Service) reuseDetected(ctx context.Context, now time.Time, g Grant) error {
	n, err := s.store.RevokeFamily(ctx, now, g.FamilyID, ReasonReuse)
	if err != nil {
		s.metrics.rotation("store_error")
		return err
	}

	s.log.Error("session.rotate.reuse_detected",
		"user_id", g.UserID, "family_id", g.FamilyID, "revoked", n)
	s.metrics.rotation("reuse_detected")
	s.metrics.reuse()
	return ErrReuseDetected
}

// Revoke revokes the grant matching refreshTokenID if it belongs to userID.
// Revoking an already-revoked or unknown grant is a no-op, not an error.
func (s *Service) Revoke(ctx context.Context, now time.Time, refreshTokenID, userID, reason string) error {
	hash, ok := s.tokenHash(refreshTokenID)
	if !ok {
		return nil
	}
	if reason == "" {
		reason = ReasonLogout
	}
	_, err := s.store.RevokeByTokenHash(ctx, now, hash, userID, reason)
	return err
}

// RevokeAllForUser revokes every live grant for a user and returns the number
// of sessions terminated. Used for password changes or suspected full-account
// compromise.
func (s *Service) RevokeAllForUser(ctx context.Context, now time.Time, userID string) (int64, error) {
	n, err := s.store.RevokeAllForUser(ctx, now, userID, ReasonSecurity)
	if err != nil {
		return 0, err
	}
	s.log.Info("session.revoke_all", "user_id", userID, "revoked", n)
	return n, nil
}
