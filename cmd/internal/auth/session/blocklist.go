package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"relay/cmd/security/token"
)

// BlockedToken mirrors one relay.blocked_access_tokens row: an access token
// explicitly revoked before its natural expiry.
type BlockedToken struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
}

// BlocklistStore abstracts the durable side of the access-token blocklist.
type BlocklistStore interface {
	// Insert persists a blocked token. Inserting the same hash twice is a no-op.
	Insert(ctx context.Context, b BlockedToken) error

	// LoadActive returns every blocked token whose expiry is still in the future.
	LoadActive(ctx context.Context, now time.Time) ([]BlockedToken, error)

	// DeleteExpiredBefore removes rows whose expiry predates cutoff.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Blocklist answers "is this access token revoked?" on the hot path of every
// authenticated request without a store round trip.
//
// The in-memory map is a pure availability optimization over the durable set:
// Add writes durably before returning so a process restart never forgets a
// revocation the caller believes succeeded, and Hydrate rebuilds the map at
// startup.
type Blocklist struct {
	mu      sync.Mutex
	entries map[string]time.Time // token hash -> expiry

	store   BlocklistStore
	log     *slog.Logger
	metrics *Metrics
}

// NewBlocklist constructs a Blocklist over the given durable store.
// Metrics may be nil.
func NewBlocklist(store BlocklistStore, log *slog.Logger, metrics *Metrics) *Blocklist {
	if log == nil {
		log = slog.Default()
	}
	return &Blocklist{
		entries: make(map[string]time.Time),
		store:   store,
		log:     log,
		metrics: metrics,
	}
}

// Hydrate loads every still-valid blocked token from the durable store into
// memory. Callers run it before accepting traffic; a failure is reported but
// must not abort startup (the blind spot closes on the next sweep cycle).
func (b *Blocklist) Hydrate(ctx context.Context, now time.Time) error {
	rows, err := b.store.LoadActive(ctx, now)
	if err != nil {
		return err
	}

	b.mu.Lock()
	for _, r := range rows {
		b.entries[r.TokenHash] = r.ExpiresAt
	}
	size := len(b.entries)
	b.mu.Unlock()

	b.metrics.setBlocklistSize(size)
	b.log.Info("blocklist.hydrated", "entries", size)
	return nil
}

// IsRevoked reports whether the access token has been explicitly revoked and
// is still inside its validity window. Entries past expiry are evicted lazily.
func (b *Blocklist) IsRevoked(now time.Time, accessTokenID string) bool {
	hash := token.HashTokenHex(accessTokenID)

	b.mu.Lock()
	defer b.mu.Unlock()

	exp, ok := b.entries[hash]
	if !ok {
		return false
	}
	if !exp.After(now) {
		delete(b.entries, hash)
		b.metrics.setBlocklistSize(len(b.entries))
		return false
	}
	return true
}

// Add revokes an access token until its expiry. The durable write happens
// before the function returns; its failure propagates because a silently lost
// revocation is a security defect, not an inconvenience.
func (b *Blocklist) Add(ctx context.Context, now time.Time, accessTokenID, userID string, expiresAt time.Time) error {
	if !expiresAt.After(now) {
		// Already expired; nothing to block.
		return nil
	}

	hash := token.HashTokenHex(accessTokenID)
	if err := b.store.Insert(ctx, BlockedToken{TokenHash: hash, UserID: userID, ExpiresAt: expiresAt}); err != nil {
		return err
	}

	b.mu.Lock()
	b.entries[hash] = expiresAt
	size := len(b.entries)
	b.mu.Unlock()

	b.metrics.setBlocklistSize(size)
	return nil
}

// Sweep drops expired entries from memory and deletes expired rows from the
// durable store. Returns the number of durable rows removed.
func (b *Blocklist) Sweep(ctx context.Context, now time.Time) (int64, error) {
	b.mu.Lock()
	for hash, exp := range b.entries {
		if !exp.After(now) {
			delete(b.entries, hash)
		}
	}
	size := len(b.entries)
	b.mu.Unlock()

	b.metrics.setBlocklistSize(size)

	return b.store.DeleteExpiredBefore(ctx, now)
}

// Len reports the number of in-memory entries.
func (b *Blocklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
