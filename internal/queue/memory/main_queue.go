package memory

import (
	"context"
	"sync"
	"time"
)

// MainQueue is an in-process FIFO used in tests and single-binary dev setups.
type MainQueue struct {
	mu     sync.Mutex
	items  []string
	notify chan struct{}
}

func NewMainQueue() *MainQueue {
	return &MainQueue{notify: make(chan struct{}, 1)}
}

func (q *MainQueue) Push(_ context.Context, jobID string) (int64, error) {
	q.mu.Lock()
	q.items = append(q.items, jobID)
	n := int64(len(q.items))
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return n, nil
}

func (q *MainQueue) Pop(ctx context.Context, timeout time.Duration) (string, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if id, ok := q.tryPop(); ok {
			return id, true, nil
		}
		select {
		case <-q.notify:
		case <-timer.C:
			id, ok := q.tryPop()
			return id, ok, nil
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

func (q *MainQueue) tryPop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	id := q.items[0]
	q.items = q.items[1:]
	if len(q.items) > 0 {
		// wake another waiter
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return id, true
}

func (q *MainQueue) Depth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// Snapshot returns the queued ids in order.
func (q *MainQueue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.items))
	copy(out, q.items)
	return out
}
