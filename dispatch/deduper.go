package dispatch

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper records completed deliveries so a redelivered event skips the
// (recipient, channel) pairs that already went out.
type Deduper interface {
	Claim(ctx context.Context, deliveryID string) (bool, error)
	Release(ctx context.Context, deliveryID string) error
}

const dedupeKeyPrefix = "dl"

// RedisDeduper stores claimed delivery ids in Redis so every dispatcher
// instance sees the same claims.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
// The TTL bounds how long a claim outlives the queue's redelivery window.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(deliveryID string) string {
	return dedupeKeyPrefix + ":" + deliveryID
}

// Claim records the delivery id if it is not already claimed. It returns true
// when the claim is new and the delivery should proceed.
func (r *RedisDeduper) Claim(ctx context.Context, deliveryID string) (bool, error) {
	return r.client.SetNX(ctx, r.key(deliveryID), 1, r.ttl).Result()
}

// Release deletes a claim after a failed delivery so the next redelivery of
// the event retries it.
func (r *RedisDeduper) Release(ctx context.Context, deliveryID string) error {
	return r.client.Del(ctx, r.key(deliveryID)).Err()
}
