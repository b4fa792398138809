package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type MainQueue struct {
	client *goredis.Client
	key    string
}

func NewMainQueue(client *goredis.Client, prefix string) *MainQueue {
	return &MainQueue{client: client, key: mainKey(prefix)}
}

func (q *MainQueue) Push(ctx context.Context, jobID string) (int64, error) {
	n, err := q.client.RPush(ctx, q.key, jobID).Result()
	if err != nil {
		return 0, fmt.Errorf("main queue push: %w", err)
	}
	return n, nil
}

func (q *MainQueue) Pop(ctx context.Context, timeout time.Duration) (string, bool, error) {
	res, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("main queue pop: %w", err)
	}
	// BLPOP replies with [key, value]
	if len(res) != 2 {
		return "", false, fmt.Errorf("main queue pop: unexpected reply %v", res)
	}
	return res[1], true, nil
}

func (q *MainQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("main queue depth: %w", err)
	}
	return n, nil
}
