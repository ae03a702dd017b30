package token

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/farepay/farepay-api/internal/pkg/metrics"
)

// Expirer retires stale tokens
type Expirer interface {
	ExpireBatch(ctx context.Context, limit int) (int, error)
	Now() time.Time
}

// PendingReaper fails transactions left pending by a crashed redemption
type PendingReaper interface {
	FailStalePending(ctx context.Context, olderThan time.Time, reason string) (int64, error)
}

// SweeperConfig controls the sweep cadence
type SweeperConfig struct {
	Interval       time.Duration
	BatchSize      int
	PendingTimeout time.Duration
}

// Sweeper reclaims tokens nobody redeemed in time. Redemption re-checks expiry
// itself, so sweeping only bounds how long stale tokens look pending.
type Sweeper struct {
	tokens Expirer
	reaper PendingReaper
	cfg    SweeperConfig
}

// NewSweeper creates a sweeper; reaper may be nil.
func NewSweeper(tokens Expirer, reaper PendingReaper, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = 5 * time.Minute
	}
	return &Sweeper{tokens: tokens, reaper: reaper, cfg: cfg}
}

// Start runs a sweep immediately and then every interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	log.Info().Dur("interval", s.cfg.Interval).Msg("Starting token expiry sweeper")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Token expiry sweeper stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep cycle.
func (s *Sweeper) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for {
		expired, err := s.tokens.ExpireBatch(runCtx, s.cfg.BatchSize)
		if err != nil {
			log.Error().Err(err).Msg("Failed to expire stale tokens")
			break
		}
		if expired > 0 {
			log.Info().Int("count", expired).Msg("Expired stale tokens")
		}
		// A short batch means the backlog is drained
		if expired < s.cfg.BatchSize {
			break
		}
	}

	if s.reaper == nil {
		return
	}
	cutoff := s.tokens.Now().Add(-s.cfg.PendingTimeout)
	reaped, err := s.reaper.FailStalePending(runCtx, cutoff, "abandoned")
	if err != nil {
		log.Error().Err(err).Msg("Failed to reap abandoned transactions")
		return
	}
	if reaped > 0 {
		metrics.TransactionsReapedTotal.Add(float64(reaped))
		log.Warn().Int64("count", reaped).Msg("Failed abandoned pending transactions")
	}
}
