package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyPrefix = "todo:idempotency:"
	idempotencyPending   = "pending"
	maxIdempotencyKeyLen = 255
)

var errIdempotencyKeyTooLong = errors.New("idempotency key too long")

// RedisIdempotency records create requests in Redis so a retried POST with the
// same Idempotency-Key returns the task made by the first attempt.
type RedisIdempotency struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotency creates an idempotency store using the provided Redis
// client and TTL.
func NewRedisIdempotency(client *redis.Client, ttl time.Duration) *RedisIdempotency {
	return &RedisIdempotency{client: client, ttl: ttl}
}

func (r *RedisIdempotency) key(key string) string {
	return idempotencyKeyPrefix + key
}

// Claim reserves key with a pending marker. When the key already exists it
// returns the recorded task id, or 0 while the first request is in flight.
func (r *RedisIdempotency) Claim(ctx context.Context, key string) (bool, int64, error) {
	if len(key) > maxIdempotencyKeyLen {
		return false, 0, errIdempotencyKeyTooLong
	}
	added, err := r.client.SetNX(ctx, r.key(key), idempotencyPending, r.ttl).Result()
	if err != nil {
		return false, 0, err
	}
	if added {
		return true, 0, nil
	}
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		added, err = r.client.SetNX(ctx, r.key(key), idempotencyPending, r.ttl).Result()
		return added, 0, err
	}
	if err != nil {
		return false, 0, err
	}
	if val == idempotencyPending {
		return false, 0, nil
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, 0, err
	}
	return false, id, nil
}

// Complete stores the id of the task created under key.
func (r *RedisIdempotency) Complete(ctx context.Context, key string, taskID int64) error {
	return r.client.Set(ctx, r.key(key), strconv.FormatInt(taskID, 10), r.ttl).Err()
}

// Release deletes a claimed key so the client may retry.
func (r *RedisIdempotency) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
