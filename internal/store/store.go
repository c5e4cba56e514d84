// Package store provides the counter and cache persistence used by the quota
// controller and the response cache.
//
// Three backends share one key layout: an in-process store, SQLite and Redis.
// Everything kept here is best-effort and safe to lose.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Values.Get for missing or expired keys.
var ErrNotFound = errors.New("store: key not found")

// Counters is an atomic integer counter capability.
type Counters interface {
	// Incr atomically increments key and returns the new value. A key that is
	// missing or expired starts at 1 and receives ttl as its expiry.
	// ttl <= 0 means no expiry.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Value returns the current value of key, or 0 when missing or expired.
	Value(ctx context.Context, key string) (int64, error)

	// Put overwrites key with v and resets its expiry.
	Put(ctx context.Context, key string, v int64, ttl time.Duration) error

	// Keys lists live counter keys matching a glob pattern (* and ?).
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Values is a byte-slice key/value capability with expiry.
type Values interface {
	// Get returns the payload for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores payload under key. Last writer wins.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// Backend is a complete store implementation.
type Backend interface {
	Counters
	Values

	// Name identifies the backend currently serving requests.
	Name() string

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Expirer is implemented by backends that need expired rows swept.
type Expirer interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Option configures a local backend.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
