// Package cache stores JSON-encoded tool responses with a time-to-live.
// It never fails its caller: store errors degrade to a miss or a dropped
// write.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/yieldera/advisor/internal/store"
)

// Cache is a best-effort JSON cache over a Values store.
type Cache struct {
	values store.Values
	logger *slog.Logger
}

// New creates a Cache.
func New(values store.Values, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{values: values, logger: logger}
}

// GetJSON decodes the entry for key into dst and reports whether it was a hit.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) bool {
	payload, err := c.values.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("Cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		c.logger.Warn("Cache entry is not valid JSON, ignoring", "key", key, "error", err)
		return false
	}
	return true
}

// SetJSON stores value under key for ttl.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Cache value cannot be encoded", "key", key, "error", err)
		return
	}
	if err := c.values.Set(ctx, key, payload, ttl); err != nil {
		c.logger.Warn("Cache write failed", "key", key, "error", err)
	}
}
