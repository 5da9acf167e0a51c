package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dedupeKeyPrefix = "idem"
	pendingMarker   = "-"
)

// RedisDeduper stores idempotency keys in Redis so all instances can avoid
// creating the same task twice.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(owner, key string) string {
	return fmt.Sprintf("%s:%s:%s", owner, dedupeKeyPrefix, key)
}

func (r *RedisDeduper) Reserve(ctx context.Context, owner, key string) (string, bool, error) {
	k := r.key(owner, key)
	added, err := r.client.SetNX(ctx, k, pendingMarker, r.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if added {
		return "", true, nil
	}
	val, err := r.client.Get(ctx, k).Result()
	if err == redis.Nil {
		// Expired between the two calls; try once more.
		added, err = r.client.SetNX(ctx, k, pendingMarker, r.ttl).Result()
		return "", added, err
	}
	if err != nil {
		return "", false, err
	}
	if val == pendingMarker {
		return "", false, nil
	}
	return val, false, nil
}

func (r *RedisDeduper) Complete(ctx context.Context, owner, key, taskID string) error {
	return r.client.Set(ctx, r.key(owner, key), taskID, r.ttl).Err()
}

// Release deletes a reservation. It is used when creation fails so the caller
// may retry with the same key.
func (r *RedisDeduper) Release(ctx context.Context, owner, key string) error {
	return r.client.Del(ctx, r.key(owner, key)).Err()
}
