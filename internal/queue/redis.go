package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis is a Queue backed by a Redis sorted set, scored by due
// timestamp (unix seconds).
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis creates a Redis queue over the given client. key names the
// sorted set, e.g. "vigil:escalations".
func NewRedis(client *redis.Client, key string) *Redis {
	return &Redis{client: client, key: key}
}

func (q *Redis) Enqueue(ctx context.Context, key string, dueAt time.Time) error {
	err := q.client.ZAdd(ctx, q.key, &redis.Z{
		Score:  float64(dueAt.Unix()),
		Member: key,
	}).Err()
	if err != nil {
		return fmt.Errorf("queue enqueue %s: %w", key, err)
	}
	return nil
}

func (q *Redis) PopDue(ctx context.Context, max time.Time, limit int) ([]string, error) {
	keys, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(max.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("queue pop: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	// A concurrent pop may have removed some of these already; that is
	// fine because the worker re-reads authoritative state per key.
	if err := q.client.ZRem(ctx, q.key, members...).Err(); err != nil {
		return nil, fmt.Errorf("queue pop remove: %w", err)
	}
	return keys, nil
}

func (q *Redis) Remove(ctx context.Context, key string) error {
	if err := q.client.ZRem(ctx, q.key, key).Err(); err != nil {
		return fmt.Errorf("queue remove %s: %w", key, err)
	}
	return nil
}
