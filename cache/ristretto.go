package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/xraph/concierge"
)

// Compile-time interface check.
var _ concierge.Cache = (*Ristretto)(nil)

// RistrettoConfig sizes a Ristretto cache.
type RistrettoConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	// MaxSubjects bounds how many per-subject generations are tracked.
	MaxSubjects int
}

// DefaultRistrettoConfig sizes the cache for about a million decisions.
func DefaultRistrettoConfig() RistrettoConfig {
	return RistrettoConfig{NumCounters: 1e7, MaxCost: 1 << 20, BufferItems: 64, MaxSubjects: 100_000}
}

// Ristretto is a high-throughput admission-controlled cache. Ristretto
// cannot enumerate keys, so per-subject invalidation bumps a subject
// generation that is part of every key; stale generations age out by TTL.
//
// Generations live in a bounded LRU. Subjects without one share the base
// generation, which moves past every issued generation whenever one is
// evicted, so an evicted subject never falls back to an older key.
type Ristretto struct {
	cache *ristretto.Cache
	now   func() time.Time

	gens *lru.Cache[string, uint64]
	seq  atomic.Uint64
	base atomic.Uint64
}

// NewRistretto creates a Ristretto-backed cache. Each entry costs 1.
func NewRistretto(cfg RistrettoConfig) (*Ristretto, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxCost,
		BufferItems:        cfg.BufferItems,
		// Cost counts entries, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: ristretto: %w", err)
	}
	if cfg.MaxSubjects <= 0 {
		cfg.MaxSubjects = DefaultRistrettoConfig().MaxSubjects
	}
	r := &Ristretto{cache: c, now: time.Now}
	r.gens, err = lru.NewWithEvict(cfg.MaxSubjects, func(string, uint64) {
		r.base.Store(r.seq.Add(1))
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("cache: ristretto generations: %w", err)
	}
	return r, nil
}

func (r *Ristretto) generation(subjectID string) uint64 {
	if gen, ok := r.gens.Get(subjectID); ok {
		return gen
	}
	return r.base.Load()
}

func (r *Ristretto) key(k concierge.CacheKey) string {
	return fmt.Sprintf("%d/%s", r.generation(k.SubjectID), k.String())
}

// Get returns a live cached decision.
func (r *Ristretto) Get(_ context.Context, key concierge.CacheKey) (*concierge.CacheEntry, bool) {
	v, ok := r.cache.Get(r.key(key))
	if !ok {
		return nil, false
	}
	e, ok := v.(concierge.CacheEntry)
	if !ok || !e.Live(r.now()) {
		return nil, false
	}
	return &e, true
}

// Set stores a decision until its ExpiresAt. Ristretto may refuse admission;
// a refused entry is simply not cached.
func (r *Ristretto) Set(_ context.Context, key concierge.CacheKey, entry *concierge.CacheEntry) error {
	ttl := entry.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	r.cache.SetWithTTL(r.key(key), *entry, 1, ttl)
	return nil
}

// InvalidateSubject makes every existing decision of the subject unreachable.
func (r *Ristretto) InvalidateSubject(_ context.Context, subjectID string) error {
	r.gens.Add(subjectID, r.seq.Add(1))
	return nil
}

// InvalidateAll clears the cache and forgets every tracked generation.
func (r *Ristretto) InvalidateAll(_ context.Context) error {
	r.cache.Clear()
	r.gens.Purge()
	return nil
}

// TrackedSubjects reports how many subject generations are held.
func (r *Ristretto) TrackedSubjects() int { return r.gens.Len() }

// Wait blocks until buffered writes are applied.
func (r *Ristretto) Wait() { r.cache.Wait() }

// Close stops the cache's background goroutines.
func (r *Ristretto) Close() { r.cache.Close() }
