package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onHandKeyPrefix   = "onhand:"
	idempotencyKeyTTL = 24 * time.Hour
)

// RedisAdapter holds the read-side on-hand cache and the settlement
// idempotency keys. The database stays authoritative for both: a cold or
// flushed cache only costs extra store reads.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *RedisAdapter) SetOnHand(ctx context.Context, variantID string, onHand int) error {
	return r.client.Set(ctx, onHandKeyPrefix+variantID, onHand, 0).Err()
}

func (r *RedisAdapter) GetOnHand(ctx context.Context, variantID string) (int, bool, error) {
	val, err := r.client.Get(ctx, onHandKeyPrefix+variantID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	onHand, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, err
	}
	return onHand, true, nil
}
