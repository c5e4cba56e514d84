package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yieldera/advisor/internal/store"
)

type forecast struct {
	Dates   []string  `json:"dates"`
	MaxTemp []float64 `json:"max_temp"`
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCacheHitBeforeTTLMissAfter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := &clock{now: time.Now()}
	c := New(store.NewMemory(10, store.WithClock(clk.Now)), nil)

	want := forecast{Dates: []string{"2026-10-16"}, MaxTemp: []float64{31.5}}
	c.SetJSON(ctx, "weather:-17.83:31.05", want, 4*time.Hour)

	var got forecast
	require.True(t, c.GetJSON(ctx, "weather:-17.83:31.05", &got))
	assert.Equal(t, want, got)

	clk.Advance(4*time.Hour - time.Second)
	assert.True(t, c.GetJSON(ctx, "weather:-17.83:31.05", &got))

	clk.Advance(time.Second)
	assert.False(t, c.GetJSON(ctx, "weather:-17.83:31.05", &got))
}

func TestCacheMissForUnknownKey(t *testing.T) {
	t.Parallel()
	c := New(store.NewMemory(10), nil)

	var got forecast
	assert.False(t, c.GetJSON(context.Background(), "nope", &got))
}

type brokenValues struct{}

func (brokenValues) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func (brokenValues) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func TestCacheNeverFailsCaller(t *testing.T) {
	t.Parallel()
	c := New(brokenValues{}, nil)

	c.SetJSON(context.Background(), "k", map[string]int{"a": 1}, time.Minute)
	var got map[string]int
	assert.False(t, c.GetJSON(context.Background(), "k", &got))

	// Unencodable values are dropped rather than panicking.
	c.SetJSON(context.Background(), "k", make(chan int), time.Minute)
}

func TestCacheIgnoresCorruptEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := store.NewMemory(10)
	require.NoError(t, mem.Set(ctx, "k", []byte("{not json"), time.Minute))

	var got map[string]any
	assert.False(t, New(mem, nil).GetJSON(ctx, "k", &got))
}
