package store

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// Fallback serves every call from primary and switches to secondary for
// calls where primary fails. It returns to primary as soon as primary
// answers again.
type Fallback struct {
	primary   Backend
	secondary Backend
	logger    *slog.Logger
	degraded  atomic.Bool
}

// NewFallback wraps primary with an in-process secondary.
func NewFallback(primary, secondary Backend, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

// Name reports the backend that served the most recent call.
func (f *Fallback) Name() string {
	if f.degraded.Load() {
		return f.secondary.Name()
	}
	return f.primary.Name()
}

// Ping reports primary health only.
func (f *Fallback) Ping(ctx context.Context) error {
	return f.primary.Ping(ctx)
}

// Close closes both backends.
func (f *Fallback) Close() error {
	return errors.Join(f.primary.Close(), f.secondary.Close())
}

func (f *Fallback) failed(op, key string, err error) {
	if !f.degraded.Swap(true) {
		f.logger.Warn("Primary store unavailable, using in-process fallback",
			"store", f.primary.Name(), "op", op, "key", key, "error", err)
	} else {
		f.logger.Debug("Primary store still unavailable", "op", op, "key", key, "error", err)
	}
}

func (f *Fallback) recovered() {
	if f.degraded.Swap(false) {
		f.logger.Info("Primary store recovered", "store", f.primary.Name())
	}
}

// Incr implements Counters.
func (f *Fallback) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := f.primary.Incr(ctx, key, ttl)
	if err == nil {
		f.recovered()
		return n, nil
	}
	f.failed("incr", key, err)
	return f.secondary.Incr(ctx, key, ttl)
}

// Value implements Counters.
func (f *Fallback) Value(ctx context.Context, key string) (int64, error) {
	n, err := f.primary.Value(ctx, key)
	if err == nil {
		f.recovered()
		return n, nil
	}
	f.failed("value", key, err)
	return f.secondary.Value(ctx, key)
}

// Put implements Counters.
func (f *Fallback) Put(ctx context.Context, key string, v int64, ttl time.Duration) error {
	err := f.primary.Put(ctx, key, v, ttl)
	if err == nil {
		f.recovered()
		return nil
	}
	f.failed("put", key, err)
	return f.secondary.Put(ctx, key, v, ttl)
}

// Keys implements Counters.
func (f *Fallback) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := f.primary.Keys(ctx, pattern)
	if err == nil {
		f.recovered()
		return keys, nil
	}
	f.failed("keys", pattern, err)
	return f.secondary.Keys(ctx, pattern)
}

// Get implements Values. A primary miss is a miss; only errors fall through.
func (f *Fallback) Get(ctx context.Context, key string) ([]byte, error) {
	payload, err := f.primary.Get(ctx, key)
	if err == nil || errors.Is(err, ErrNotFound) {
		f.recovered()
		return payload, err
	}
	f.failed("get", key, err)
	return f.secondary.Get(ctx, key)
}

// Set implements Values.
func (f *Fallback) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	err := f.primary.Set(ctx, key, payload, ttl)
	if err == nil {
		f.recovered()
		return nil
	}
	f.failed("set", key, err)
	return f.secondary.Set(ctx, key, payload, ttl)
}

// DeleteExpired sweeps whichever backends need it.
func (f *Fallback) DeleteExpired(ctx context.Context) (int64, error) {
	var (
		total int64
		errs  []error
	)
	for _, b := range []Backend{f.primary, f.secondary} {
		exp, ok := b.(Expirer)
		if !ok {
			continue
		}
		n, err := exp.DeleteExpired(ctx)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}
