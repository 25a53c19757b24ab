package ttl

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// Sweeper expires stale topic cooldowns and ages running themes.
type Sweeper interface {
	CleanupCooldowns(ctx context.Context) (int64, error)
}

// Start runs a cooldown sweep every interval until ctx is done.
func Start(ctx context.Context, logger *log.Logger, interval time.Duration, sweeper Sweeper) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx, logger, sweeper)
		}
	}
}

func sweep(ctx context.Context, logger *log.Logger, sweeper Sweeper) {
	n, err := sweeper.CleanupCooldowns(ctx)
	if err != nil {
		logger.Warn("cooldown sweep failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("cooldown sweep updated bots", "count", n)
	}
}
