package store

import (
	"context"
	"log/slog"
	"time"
)

const defaultSweepInterval = 5 * time.Minute

// StartSweeper runs a background goroutine that periodically deletes expired
// entries from backends that do not expire natively. It returns immediately
// when b has nothing to sweep.
func StartSweeper(ctx context.Context, b Backend, interval time.Duration, logger *slog.Logger) {
	exp, ok := b.(Expirer)
	if !ok {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		logger.Info("Store sweeper started", "interval", interval, "store", b.Name())

		for {
			select {
			case <-ticker.C:
				sweepOnce(ctx, exp, logger)
			case <-ctx.Done():
				logger.Info("Store sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepOnce(ctx context.Context, exp Expirer, logger *slog.Logger) {
	deleted, err := exp.DeleteExpired(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error("Store sweeper failed to delete expired entries", "error", err)
		return
	}
	if deleted > 0 {
		logger.Info("Store sweeper removed expired entries", "count", deleted)
	}
}
