// Package cleanup clears stored refresh tokens that no longer verify.
// Refresh validation re-checks expiry on every use, so this is housekeeping
// for the users table, not a correctness requirement.
package cleanup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mprlab/accountd/internal/authkit"
)

// Sweeper periodically scans users holding a refresh token and clears the
// ones that fail verification against the refresh signing key.
type Sweeper struct {
	users    authkit.UserStore
	config   authkit.ServerConfig
	clock    authkit.Clock
	logger   *zap.Logger
	interval time.Duration
}

// NewSweeper wires a sweeper. Nil clock and logger fall back to the system
// clock and a no-op logger.
func NewSweeper(configuration authkit.ServerConfig, users authkit.UserStore, clock authkit.Clock, logger *zap.Logger, interval time.Duration) *Sweeper {
	if clock == nil {
		clock = authkit.NewSystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		users:    users,
		config:   configuration,
		clock:    clock,
		logger:   logger,
		interval: interval,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (sweeper *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sweeper.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, total, sweepErr := sweeper.SweepOnce(ctx)
			if sweepErr != nil {
				sweeper.logger.Error("token sweep failed",
					zap.String("code", "cleanup.sweep"),
					zap.Error(sweepErr))
				continue
			}
			sweeper.logger.Info("token sweep completed",
				zap.String("code", "cleanup.sweep"),
				zap.Int("removed", removed),
				zap.Int("total", total))
		}
	}
}

// SweepOnce performs a single pass and reports how many stale tokens were
// cleared out of how many stored tokens were inspected.
func (sweeper *Sweeper) SweepOnce(ctx context.Context) (int, int, error) {
	holders, listErr := sweeper.users.ListUsersWithRefreshToken(ctx)
	if listErr != nil {
		return 0, 0, listErr
	}

	removed := 0
	for index := range holders {
		holder := holders[index]
		_, parseErr := authkit.ParseToken(sweeper.clock, holder.RefreshToken, sweeper.config.Issuer, sweeper.config.RefreshSigningKey)
		if parseErr == nil {
			continue
		}
		// Conditional clear: a concurrent rotation means the stored token is
		// no longer the one we inspected, and must survive.
		cleared, clearErr := sweeper.users.SwapRefreshToken(ctx, holder.ID, holder.RefreshToken, "")
		if clearErr != nil {
			sweeper.logger.Warn("stale token clear failed",
				zap.String("code", "cleanup.clear"),
				zap.String("user_id", holder.ID),
				zap.Error(clearErr))
			continue
		}
		if cleared {
			removed++
		}
	}
	return removed, len(holders), nil
}
