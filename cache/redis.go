package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/concierge"
)

// Compile-time interface check.
var _ concierge.Cache = (*Redis)(nil)

// Redis is a shared decision cache for engines running on several nodes.
// Decisions live under "<prefix>d:<key>"; each subject has a set
// "<prefix>s:<subject>" listing its decision keys for invalidation.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// RedisOption configures the redis cache.
type RedisOption func(*Redis)

// WithKeyPrefix namespaces every key, e.g. per deployment.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithRedisClock sets the clock used to compute entry TTLs.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *Redis) { r.now = now }
}

// NewRedis creates a redis-backed cache.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: "concierge:", now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) decisionKey(key string) string { return r.prefix + "d:" + key }

func (r *Redis) subjectKey(subjectID string) string { return r.prefix + "s:" + subjectID }

// Get returns a live cached decision. Redis failures read as a miss.
func (r *Redis) Get(ctx context.Context, key concierge.CacheKey) (*concierge.CacheEntry, bool) {
	data, err := r.client.Get(ctx, r.decisionKey(key.String())).Bytes()
	if err != nil {
		return nil, false
	}
	var e concierge.CacheEntry
	if err := json.Unmarshal(data, &e); err != nil || !e.Live(r.now()) {
		return nil, false
	}
	return &e, true
}

// Set stores a decision until its ExpiresAt and indexes it by subject.
func (r *Redis) Set(ctx context.Context, key concierge.CacheKey, entry *concierge.CacheEntry) error {
	ttl := entry.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	dk := r.decisionKey(key.String())
	sk := r.subjectKey(key.SubjectID)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, dk, data, ttl)
		p.SAdd(ctx, sk, dk)
		p.Expire(ctx, sk, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// InvalidateSubject deletes every decision of the subject.
func (r *Redis) InvalidateSubject(ctx context.Context, subjectID string) error {
	sk := r.subjectKey(subjectID)
	keys, err := r.client.SMembers(ctx, sk).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("cache: redis members: %w", err)
	}
	keys = append(keys, sk)
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}

// InvalidateAll deletes every key under the prefix.
func (r *Redis) InvalidateAll(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 256).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 256 {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("cache: redis del: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache: redis scan: %w", err)
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("cache: redis del: %w", err)
		}
	}
	return nil
}
