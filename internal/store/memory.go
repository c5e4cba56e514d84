package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemoryEntries = 10000

type counterEntry struct {
	value     int64
	expiresAt time.Time
}

type valueEntry struct {
	payload   []byte
	expiresAt time.Time
}

// Memory is the in-process backend. Counters live in a mutex-guarded map and
// cached values in a bounded LRU.
type Memory struct {
	mu       sync.Mutex
	counters map[string]counterEntry
	values   *lru.Cache[string, valueEntry]
	now      func() time.Time
}

// NewMemory creates an in-process backend holding at most maxEntries values.
func NewMemory(maxEntries int, opts ...Option) *Memory {
	if maxEntries <= 0 {
		maxEntries = defaultMemoryEntries
	}
	values, err := lru.New[string, valueEntry](maxEntries)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(fmt.Sprintf("store: create lru: %v", err))
	}
	o := buildOptions(opts)
	return &Memory{
		counters: make(map[string]counterEntry),
		values:   values,
		now:      o.now,
	}
}

// Name implements Backend.
func (m *Memory) Name() string { return "memory" }

// Ping implements Backend.
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements Backend.
func (m *Memory) Close() error { return nil }

// Incr implements Counters.
func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	entry, ok := m.counters[key]
	if !ok || expired(entry.expiresAt, now) {
		entry = counterEntry{expiresAt: expiryFor(now, ttl)}
	}
	entry.value++
	m.counters[key] = entry
	return entry.value, nil
}

// Value implements Counters.
func (m *Memory) Value(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.counters[key]
	if !ok {
		return 0, nil
	}
	if expired(entry.expiresAt, m.now()) {
		delete(m.counters, key)
		return 0, nil
	}
	return entry.value, nil
}

// Put implements Counters.
func (m *Memory) Put(_ context.Context, key string, v int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters[key] = counterEntry{value: v, expiresAt: expiryFor(m.now(), ttl)}
	return nil
}

// Keys implements Counters.
func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var keys []string
	for key, entry := range m.counters {
		if expired(entry.expiresAt, now) {
			continue
		}
		if matchGlob(pattern, key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Get implements Values.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := m.values.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	if expired(entry.expiresAt, m.now()) {
		m.values.Remove(key)
		return nil, ErrNotFound
	}
	out := make([]byte, len(entry.payload))
	copy(out, entry.payload)
	return out, nil
}

// Set implements Values.
func (m *Memory) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	stored := make([]byte, len(payload))
	copy(stored, payload)
	m.values.Add(key, valueEntry{payload: stored, expiresAt: expiryFor(m.now(), ttl)})
	return nil
}

// DeleteExpired implements Expirer.
func (m *Memory) DeleteExpired(context.Context) (int64, error) {
	now := m.now()
	var removed int64

	m.mu.Lock()
	for key, entry := range m.counters {
		if expired(entry.expiresAt, now) {
			delete(m.counters, key)
			removed++
		}
	}
	m.mu.Unlock()

	for _, key := range m.values.Keys() {
		if entry, ok := m.values.Peek(key); ok && expired(entry.expiresAt, now) {
			m.values.Remove(key)
			removed++
		}
	}
	return removed, nil
}

// matchGlob reports whether s matches pattern, where * matches any run of
// characters and ? matches exactly one. Unlike path.Match, * crosses '/'.
func matchGlob(pattern, s string) bool {
	p, str := []rune(pattern), []rune(s)
	pi, si := 0, 0
	star, mark := -1, 0
	for si < len(str) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == str[si]):
			pi++
			si++
		case pi < len(p) && p[pi] == '*':
			star, mark = pi, si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}
