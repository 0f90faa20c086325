// Package cache provides decision cache backends for the concierge engine.
package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xraph/concierge"
)

// Compile-time interface check.
var _ concierge.Cache = (*Memory)(nil)

// Memory is an in-process LRU cache. Entries are evicted by size, by the
// cache-wide TTL, and by their own ExpiresAt, whichever comes first.
type Memory struct {
	lru     *lru.LRU[string, *concierge.CacheEntry]
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// MemoryOption configures the memory cache.
type MemoryOption func(*Memory)

// WithTTL sets the upper bound on how long an entry is kept.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) { m.ttl = ttl }
}

// WithMaxSize sets the maximum number of cache entries.
func WithMaxSize(n int) MemoryOption {
	return func(m *Memory) { m.maxSize = n }
}

// WithClock sets the clock used to check entry expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates a new in-memory cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		ttl:     5 * time.Minute,
		maxSize: 10000,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lru = lru.NewLRU[string, *concierge.CacheEntry](m.maxSize, nil, m.ttl)
	return m
}

// Get returns a live cached decision.
func (m *Memory) Get(_ context.Context, key concierge.CacheKey) (*concierge.CacheEntry, bool) {
	k := key.String()
	e, ok := m.lru.Get(k)
	if !ok {
		return nil, false
	}
	if !e.Live(m.now()) {
		m.lru.Remove(k)
		return nil, false
	}
	cp := *e
	return &cp, true
}

// Set stores a decision.
func (m *Memory) Set(_ context.Context, key concierge.CacheKey, entry *concierge.CacheEntry) error {
	cp := *entry
	m.lru.Add(key.String(), &cp)
	return nil
}

// InvalidateSubject removes every decision of the subject.
func (m *Memory) InvalidateSubject(_ context.Context, subjectID string) error {
	for _, k := range m.lru.Keys() {
		if concierge.HasSubject(k, subjectID) {
			m.lru.Remove(k)
		}
	}
	return nil
}

// InvalidateAll clears the cache.
func (m *Memory) InvalidateAll(_ context.Context) error {
	m.lru.Purge()
	return nil
}

// Len returns the number of cached entries.
func (m *Memory) Len() int {
	return m.lru.Len()
}
