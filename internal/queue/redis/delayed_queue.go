package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type DelayedQueue struct {
	client *goredis.Client
	key    string
}

func NewDelayedQueue(client *goredis.Client, prefix string) *DelayedQueue {
	return &DelayedQueue{client: client, key: delayedKey(prefix)}
}

func (q *DelayedQueue) Schedule(ctx context.Context, jobID string, executeAt time.Time) error {
	z := goredis.Z{Score: float64(executeAt.UnixMilli()), Member: jobID}
	if err := q.client.ZAdd(ctx, q.key, z).Err(); err != nil {
		return fmt.Errorf("delayed queue schedule: %w", err)
	}
	return nil
}

// PopReady reads due members then claims each with ZREM. A member whose ZREM
// returns 0 was taken by a concurrent Cancel or another promoter and is skipped.
func (q *DelayedQueue) PopReady(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	due, err := q.client.ZRangeByScore(ctx, q.key, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("delayed queue read ready: %w", err)
	}

	claimed := make([]string, 0, len(due))
	for _, id := range due {
		n, err := q.client.ZRem(ctx, q.key, id).Result()
		if err != nil {
			return claimed, fmt.Errorf("delayed queue claim %s: %w", id, err)
		}
		if n == 1 {
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}

func (q *DelayedQueue) Cancel(ctx context.Context, jobID string) (bool, error) {
	n, err := q.client.ZRem(ctx, q.key, jobID).Result()
	if err != nil {
		return false, fmt.Errorf("delayed queue cancel: %w", err)
	}
	return n == 1, nil
}

func (q *DelayedQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("delayed queue depth: %w", err)
	}
	return n, nil
}
