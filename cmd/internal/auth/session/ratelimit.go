package session

import (
	"sync"
	"time"
)

// RateLimiter is a per-principal sliding-window limiter for the refresh
// endpoint. Single-process, best-effort: it blunts brute-force and
// replay-probing within one runtime instance and makes no cross-process claim.
type RateLimiter struct {
	mu     sync.Mutex
	byKey  map[string][]time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter with safe defaults when inputs are invalid.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultConfig().RefreshLimitMax
	}
	if window <= 0 {
		window = DefaultConfig().RefreshLimitWindow
	}
	return &RateLimiter{
		byKey:  make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an attempt for key at time "now" should be permitted.
// When over the limit, the attempt is not recorded and retryAfter hints when
// the oldest counted attempt leaves the window.
func (r *RateLimiter) Allow(key string, now time.Time) (ok bool, retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	events := r.byKey[key]
	dst := events[:0]
	for _, t := range events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}

	if len(dst) >= r.limit {
		r.byKey[key] = dst
		return false, dst[0].Add(r.window).Sub(now)
	}

	r.byKey[key] = append(dst, now)
	return true, 0
}

// PruneIdle drops keys with no attempt inside the window. Invoked by the
// maintenance sweep so the map does not grow with one-off principals.
func (r *RateLimiter) PruneIdle(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	var n int
	for key, events := range r.byKey {
		if len(events) == 0 || !events[len(events)-1].After(cut) {
			delete(r.byKey, key)
			n++
		}
	}
	return n
}
