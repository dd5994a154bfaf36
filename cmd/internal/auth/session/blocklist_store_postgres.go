package session

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBlocklistStore implements BlocklistStore using PostgreSQL
// (relay.blocked_access_tokens).
type PostgresBlocklistStore struct {
	pool *pgxpool.Pool
}

// NewPostgresBlocklistStore creates a Postgres-backed blocklist store.
func NewPostgresBlocklistStore(pool *pgxpool.Pool) *PostgresBlocklistStore {
	return &PostgresBlocklistStore{pool: pool}
}

// Insert persists a blocked token (idempotent on token hash).
func (s *PostgresBlocklistStore) Insert(ctx context.Context, b BlockedToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relay.blocked_access_tokens (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO NOTHING
	`, b.TokenHash, b.UserID, b.ExpiresAt)
	return err
}

// LoadActive returns every blocked token that has not yet expired.
func (s *PostgresBlocklistStore) LoadActive(ctx context.Context, now time.Time) ([]BlockedToken, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token_hash, user_id, expires_at
		FROM relay.blocked_access_tokens
		WHERE expires_at > $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BlockedToken
	for rows.Next() {
		var b BlockedToken
		if err := rows.Scan(&b.TokenHash, &b.UserID, &b.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteExpiredBefore removes rows whose expiry predates cutoff.
func (s *PostgresBlocklistStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM relay.blocked_access_tokens
		WHERE expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
