package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, WithKeyPrefix("test:")), mr
}

func TestRedisHitMiss(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)

	k := key("u1", "guest.read.property")
	if _, ok := c.Get(ctx, k); ok {
		t.Fatal("expected cache miss")
	}
	if err := c.Set(ctx, k, entry(true, time.Minute)); err != nil {
		t.Fatal(err)
	}
	got, ok := c.Get(ctx, k)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if !got.Allowed || got.Reason == "" {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if !mr.Exists("test:d:" + k.String()) {
		t.Fatal("expected decision key in redis")
	}
	if ttl := mr.TTL("test:d:" + k.String()); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %s", ttl)
	}
}

func TestRedisExpiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)

	k := key("u1", "guest.read.property")
	_ = c.Set(ctx, k, entry(true, time.Minute))
	mr.FastForward(2 * time.Minute)
	if _, ok := c.Get(ctx, k); ok {
		t.Fatal("expected miss after ttl")
	}
}

func TestRedisInvalidateSubject(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)

	_ = c.Set(ctx, key("u1", "guest.read.property"), entry(true, time.Minute))
	_ = c.Set(ctx, key("u1", "guest.update.property"), entry(false, time.Minute))
	_ = c.Set(ctx, key("u2", "guest.read.property"), entry(true, time.Minute))

	if err := c.InvalidateSubject(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(ctx, key("u1", "guest.read.property")); ok {
		t.Fatal("expected u1 entry removed")
	}
	if _, ok := c.Get(ctx, key("u1", "guest.update.property")); ok {
		t.Fatal("expected u1 entry removed")
	}
	if mr.Exists("test:s:u1") {
		t.Fatal("expected subject index removed")
	}
	if _, ok := c.Get(ctx, key("u2", "guest.read.property")); !ok {
		t.Fatal("expected u2 entry to survive")
	}
}

func TestRedisInvalidateAll(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)
	mr.Set("other:key", "keep")

	_ = c.Set(ctx, key("u1", "guest.read.property"), entry(true, time.Minute))
	_ = c.Set(ctx, key("u2", "guest.read.property"), entry(true, time.Minute))
	if err := c.InvalidateAll(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(ctx, key("u1", "guest.read.property")); ok {
		t.Fatal("expected cache cleared")
	}
	if !mr.Exists("other:key") {
		t.Fatal("expected keys outside the prefix to survive")
	}
}

func TestRedisUnavailableReadsAsMiss(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)
	mr.Close()

	if _, ok := c.Get(ctx, key("u1", "guest.read.property")); ok {
		t.Fatal("expected miss when redis is down")
	}
	if err := c.Set(ctx, key("u1", "guest.read.property"), entry(true, time.Minute)); err == nil {
		t.Fatal("expected set error when redis is down")
	}
}
