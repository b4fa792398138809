package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

type DelayedQueue struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func NewDelayedQueue() *DelayedQueue {
	return &DelayedQueue{entries: make(map[string]time.Time)}
}

func (q *DelayedQueue) Schedule(_ context.Context, jobID string, executeAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[jobID] = executeAt
	return nil
}

func (q *DelayedQueue) PopReady(_ context.Context, now time.Time, limit int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	type entry struct {
		id string
		at time.Time
	}
	var due []entry
	for id, at := range q.entries {
		if !at.After(now) {
			due = append(due, entry{id, at})
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].id < due[j].id
		}
		return due[i].at.Before(due[j].at)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	ids := make([]string, 0, len(due))
	for _, e := range due {
		delete(q.entries, e.id)
		ids = append(ids, e.id)
	}
	return ids, nil
}

func (q *DelayedQueue) Cancel(_ context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[jobID]; !ok {
		return false, nil
	}
	delete(q.entries, jobID)
	return true, nil
}

func (q *DelayedQueue) Depth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries)), nil
}

// Contains reports whether jobID is waiting and when it is due.
func (q *DelayedQueue) Contains(jobID string) (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	at, ok := q.entries[jobID]
	return at, ok
}
