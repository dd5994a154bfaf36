package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper is the periodic maintenance loop: it evicts refresh grants past the
// retention horizon, expired blocklist rows and cache entries, and idle
// rate-limiter keys.
//
// Failures are logged and retried next cycle; they are never fatal to the
// running service and never abort in-flight request handling.
type Sweeper struct {
	cfg     Config
	log     *slog.Logger
	store   Store
	block   *Blocklist
	limiter *RateLimiter
	metrics *Metrics
}

// NewSweeper constructs a Sweeper. Blocklist, limiter, and metrics may each be
// nil; the corresponding sweep step is skipped.
func NewSweeper(cfg Config, log *slog.Logger, store Store, block *Blocklist, limiter *RateLimiter, metrics *Metrics) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{cfg: cfg, log: log, store: store, block: block, limiter: limiter, metrics: metrics}
}

// Run blocks, sweeping on the configured interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.SweepOnce(ctx, now.UTC())
		}
	}
}

// SweepOnce performs a single maintenance pass.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) {
	// Grants are retained past expiry on purpose: rotated rows are the
	// forensic evidence reuse detection runs on.
	cutoff := now.Add(-s.cfg.GrantRetention)
	if n, err := s.store.DeleteExpiredBefore(ctx, cutoff); err != nil {
		s.log.Warn("sweep.grants.failed", "err", err)
	} else if n > 0 {
		s.metrics.swept("grants", n)
		s.log.Info("sweep.grants", "deleted", n, "cutoff", cutoff)
	}

	if s.block != nil {
		if n, err := s.block.Sweep(ctx, now); err != nil {
			s.log.Warn("sweep.blocklist.failed", "err", err)
		} else if n > 0 {
			s.metrics.swept("blocklist", n)
			s.log.Info("sweep.blocklist", "deleted", n)
		}
	}

	if s.limiter != nil {
		if n := s.limiter.PruneIdle(now); n > 0 {
			s.log.Info("sweep.ratelimiter", "pruned_keys", n)
		}
	}
}
