// Package guard protects the ingestion path: per-device token-bucket
// rate limiting and monotonic-timestamp replay rejection.
package guard

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/geb16/prodtracker/internal/domain"
)

// Config tunes the admission policy.
type Config struct {
	// MaxSkew bounds |now - timestamp|; heartbeats outside it are
	// treated as replays to keep the forgeable window small.
	MaxSkew time.Duration

	// Capacity is the burst allowance of the token bucket.
	Capacity int

	// RefillPerSec is the sustained admission rate.
	RefillPerSec float64
}

// DefaultConfig allows one heartbeat every few seconds with a small burst.
func DefaultConfig() Config {
	return Config{
		MaxSkew:      5 * time.Minute,
		Capacity:     5,
		RefillPerSec: 0.5,
	}
}

// Guard admits or rejects heartbeats. Counter state lives in a shared
// store so multiple service instances see consistent limits.
type Guard struct {
	state  domain.GuardState
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

// New creates a guard over the given shared state.
func New(state domain.GuardState, cfg Config, logger *zap.Logger) *Guard {
	return &Guard{state: state, cfg: cfg, now: time.Now, logger: logger}
}

// WithClock overrides the clock (for tests).
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Admit decides whether a heartbeat may proceed to aggregation.
// Returns nil, domain.ErrReplay, or domain.ErrRateLimited. A rejected
// sample must be fully discarded by the caller; the rejection itself is
// counted inside the store for abuse monitoring.
func (g *Guard) Admit(ctx context.Context, deviceID string, ts time.Time) error {
	now := g.now()

	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > g.cfg.MaxSkew {
		g.logger.Debug("heartbeat outside skew window",
			zap.String("device", deviceID),
			zap.Duration("skew", skew))
		return domain.ErrReplay
	}

	decision, err := g.state.Admit(ctx, deviceID, ts, now, g.cfg.Capacity, g.cfg.RefillPerSec)
	if err != nil {
		return fmt.Errorf("guard state: %w", err)
	}

	switch decision {
	case domain.Admitted:
		return nil
	case domain.Replayed:
		return domain.ErrReplay
	case domain.RateLimited:
		return domain.ErrRateLimited
	default:
		return fmt.Errorf("%w: unexpected admit decision %d", domain.ErrInvariant, decision)
	}
}
