package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestRistretto(t *testing.T) *Ristretto {
	t.Helper()
	return newSizedRistretto(t, 0)
}

func newSizedRistretto(t *testing.T, maxSubjects int) *Ristretto {
	t.Helper()
	c, err := NewRistretto(RistrettoConfig{NumCounters: 1000, MaxCost: 1 << 10, BufferItems: 64, MaxSubjects: maxSubjects})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestRistrettoHitMiss(t *testing.T) {
	ctx := context.Background()
	c := newTestRistretto(t)

	k := key("u1", "guest.read.property")
	if _, ok := c.Get(ctx, k); ok {
		t.Fatal("expected cache miss")
	}
	_ = c.Set(ctx, k, entry(true, time.Minute))
	c.Wait()

	got, ok := c.Get(ctx, k)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if !got.Allowed {
		t.Fatal("expected allowed")
	}
}

func TestRistrettoSkipsExpired(t *testing.T) {
	ctx := context.Background()
	c := newTestRistretto(t)

	k := key("u1", "guest.read.property")
	_ = c.Set(ctx, k, entry(true, -time.Second))
	c.Wait()
	if _, ok := c.Get(ctx, k); ok {
		t.Fatal("expected expired entry not to be cached")
	}
}

func TestRistrettoInvalidateSubject(t *testing.T) {
	ctx := context.Background()
	c := newTestRistretto(t)

	_ = c.Set(ctx, key("u1", "guest.read.property"), entry(true, time.Minute))
	_ = c.Set(ctx, key("u2", "guest.read.property"), entry(true, time.Minute))
	c.Wait()

	_ = c.InvalidateSubject(ctx, "u1")
	if _, ok := c.Get(ctx, key("u1", "guest.read.property")); ok {
		t.Fatal("expected u1 entry unreachable")
	}
	if _, ok := c.Get(ctx, key("u2", "guest.read.property")); !ok {
		t.Fatal("expected u2 entry to survive")
	}

	// New decisions after invalidation are cached again.
	_ = c.Set(ctx, key("u1", "guest.read.property"), entry(false, time.Minute))
	c.Wait()
	got, ok := c.Get(ctx, key("u1", "guest.read.property"))
	if !ok || got.Allowed {
		t.Fatalf("expected fresh deny entry, got %+v ok=%v", got, ok)
	}
}

func TestRistrettoInvalidateAll(t *testing.T) {
	ctx := context.Background()
	c := newTestRistretto(t)

	_ = c.Set(ctx, key("u1", "guest.read.property"), entry(true, time.Minute))
	c.Wait()
	_ = c.InvalidateAll(ctx)
	if _, ok := c.Get(ctx, key("u1", "guest.read.property")); ok {
		t.Fatal("expected cache cleared")
	}
}

func TestRistrettoGenerationsBounded(t *testing.T) {
	ctx := context.Background()
	c := newSizedRistretto(t, 2)

	_ = c.Set(ctx, key("u1", "guest.read.property"), entry(true, time.Minute))
	c.Wait()
	_ = c.InvalidateSubject(ctx, "u1")
	_ = c.Set(ctx, key("u1", "guest.read.property"), entry(false, time.Minute))
	c.Wait()

	for i := range 10 {
		_ = c.InvalidateSubject(ctx, fmt.Sprintf("user-%d", i))
	}
	if n := c.TrackedSubjects(); n != 2 {
		t.Fatalf("expected 2 tracked subjects, got %d", n)
	}

	// u1's generation was evicted; neither its stale nor its last entry
	// may be served.
	if got, ok := c.Get(ctx, key("u1", "guest.read.property")); ok {
		t.Fatalf("expected evicted subject to miss, got %+v", got)
	}
	_ = c.Set(ctx, key("u1", "guest.read.property"), entry(true, time.Minute))
	c.Wait()
	if got, ok := c.Get(ctx, key("u1", "guest.read.property")); !ok || !got.Allowed {
		t.Fatalf("expected fresh entry after eviction, got %+v ok=%v", got, ok)
	}

	_ = c.InvalidateAll(ctx)
	if n := c.TrackedSubjects(); n != 0 {
		t.Fatalf("expected generations cleared, got %d", n)
	}
}
