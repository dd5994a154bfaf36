package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (relay.refresh_grants).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed grant store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const grantColumns = `
	id, user_id, family_id, token_hash,
	device_info, ip,
	issued_at, last_used_at, expires_at, revoked_at,
	replaced_by_id, revocation_reason
`

func scanGrant(row pgx.Row) (Grant, error) {
	var g Grant
	err := row.Scan(
		&g.ID,
		&g.UserID,
		&g.FamilyID,
		&g.TokenHash,
		&g.DeviceInfo,
		&g.IP,
		&g.IssuedAt,
		&g.LastUsedAt,
		&g.ExpiresAt,
		&g.RevokedAt,
		&g.ReplacedByID,
		&g.RevocationReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Grant{}, ErrGrantNotFound
	}
	if err != nil {
		return Grant{}, err
	}
	return g, nil
}

// Create inserts a new grant row.
func (s *PostgresStore) Create(ctx context.Context, g Grant) error {
	return insertGrant(ctx, s.pool, g)
}

// GetByTokenHash loads a grant row by token hash.
func (s *PostgresStore) GetByTokenHash(ctx context.Context, tokenHash string) (Grant, error) {
	return scanGrant(s.pool.QueryRow(ctx, `
		SELECT `+grantColumns+`
		FROM relay.refresh_grants
		WHERE token_hash = $1
	`, tokenHash))
}

// Rotate revokes the old grant and inserts its successor in one transaction.
//
// The revocation is guarded by revoked_at IS NULL so two concurrent rotations
// of the same grant resolve to exactly one winner; the loser observes
// ErrGrantRevoked and takes the reuse path.
func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, oldID string, successor Grant) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE relay.refresh_grants
		SET
			last_used_at = $2,
			revoked_at = $2,
			replaced_by_id = $3,
			revocation_reason = 'rotation'
		WHERE id = $1 AND revoked_at IS NULL
	`, oldID, now, successor.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGrantRevoked
	}

	if err := insertGrantTx(ctx, tx, successor); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RevokeByID revokes a single grant scoped to its owner (idempotent).
func (s *PostgresStore) RevokeByID(ctx context.Context, now time.Time, grantID, userID, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE relay.refresh_grants
		SET revoked_at = $3,
		    revocation_reason = $4
		WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL
	`, grantID, userID, now, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeByTokenHash revokes the grant matching tokenHash, scoped to its owner (idempotent).
func (s *PostgresStore) RevokeByTokenHash(ctx context.Context, now time.Time, tokenHash, userID, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE relay.refresh_grants
		SET revoked_at = $3,
		    revocation_reason = $4
		WHERE token_hash = $1 AND user_id = $2 AND revoked_at IS NULL
	`, tokenHash, userID, now, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeFamily revokes every live grant in a family as one scoped update.
func (s *PostgresStore) RevokeFamily(ctx context.Context, now time.Time, familyID, reason string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE relay.refresh_grants
		SET revoked_at = $2,
		    revocation_reason = $3
		WHERE family_id = $1 AND revoked_at IS NULL
	`, familyID, now, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RevokeAllForUser revokes every live grant for a user as one scoped update.
func (s *PostgresStore) RevokeAllForUser(ctx context.Context, now time.Time, userID, reason string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE relay.refresh_grants
		SET revoked_at = $2,
		    revocation_reason = $3
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, now, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListActive returns the user's live grants, newest first.
func (s *PostgresStore) ListActive(ctx context.Context, now time.Time, userID string) ([]Grant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+grantColumns+`
		FROM relay.refresh_grants
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY issued_at DESC, id DESC
	`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(
			&g.ID,
			&g.UserID,
			&g.FamilyID,
			&g.TokenHash,
			&g.DeviceInfo,
			&g.IP,
			&g.IssuedAt,
			&g.LastUsedAt,
			&g.ExpiresAt,
			&g.RevokedAt,
			&g.ReplacedByID,
			&g.RevocationReason,
		); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeleteExpiredBefore hard-deletes grants whose expiry predates cutoff.
func (s *PostgresStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM relay.refresh_grants
		WHERE expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func insertGrant(ctx context.Context, pool *pgxpool.Pool, g Grant) error {
	_, err := pool.Exec(ctx, insertGrantSQL, insertGrantArgs(g)...)
	return err
}

func insertGrantTx(ctx context.Context, tx pgx.Tx, g Grant) error {
	_, err := tx.Exec(ctx, insertGrantSQL, insertGrantArgs(g)...)
	return err
}

const insertGrantSQL = `
	INSERT INTO relay.refresh_grants (
		id, user_id, family_id, token_hash,
		device_info, ip,
		issued_at, last_used_at, expires_at, revoked_at,
		replaced_by_id, revocation_reason
	) VALUES (
		$1, $2, $3, $4,
		$5, $6,
		$7, $7, $8, NULL,
		NULL, NULL
	)
`

func insertGrantArgs(g Grant) []any {
	return []any{
		g.ID, g.UserID, g.FamilyID, g.TokenHash,
		g.DeviceInfo, g.IP,
		g.IssuedAt, g.ExpiresAt,
	}
}
