package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yieldera/advisor/internal/config"
)

const startupPingTimeout = 3 * time.Second

// Open builds the configured backend. A shared backend that cannot be reached
// at startup is replaced by the in-process store; a reachable one is wrapped
// in a Fallback so later outages degrade per call.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) Backend {
	if logger == nil {
		logger = slog.Default()
	}
	memory := NewMemory(cfg.MemoryEntries)

	primary, err := openPrimary(cfg)
	if err != nil {
		logger.Warn("Store backend unavailable, using in-process store", "backend", cfg.Backend, "error", err)
		return memory
	}
	if primary == nil {
		return memory
	}

	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()
	if err := primary.Ping(pingCtx); err != nil {
		logger.Warn("Store backend ping failed, using in-process store", "backend", cfg.Backend, "error", err)
		if closeErr := primary.Close(); closeErr != nil {
			logger.Debug("Failed to close unreachable store", "error", closeErr)
		}
		return memory
	}

	logger.Info("Store connected", "backend", primary.Name())
	return NewFallback(primary, memory, logger)
}

func openPrimary(cfg config.StoreConfig) (Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return nil, nil
	case config.BackendSQLite:
		return NewSQLite(cfg.DBPath)
	case config.BackendRedis:
		return NewRedis(cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
