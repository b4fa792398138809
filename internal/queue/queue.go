package queue

import (
	"context"
	"time"
)

// MainQueue is the FIFO of job ids ready to run now.
type MainQueue interface {
	// Push appends jobID and returns its 1-based position in the queue.
	Push(ctx context.Context, jobID string) (int64, error)
	// Pop blocks up to timeout for the next id. ok is false when nothing arrived.
	Pop(ctx context.Context, timeout time.Duration) (jobID string, ok bool, err error)
	Depth(ctx context.Context) (int64, error)
}

// DelayedQueue holds job ids ordered by the time they become runnable.
// PopReady and Cancel race on the same entry with exactly one winner.
type DelayedQueue interface {
	// Schedule adds jobID or moves its execute time if already present.
	Schedule(ctx context.Context, jobID string, executeAt time.Time) error
	// PopReady removes and returns up to limit ids due at or before now, earliest first.
	PopReady(ctx context.Context, now time.Time, limit int) ([]string, error)
	// Cancel removes jobID. removed is false when the entry was already gone.
	Cancel(ctx context.Context, jobID string) (removed bool, err error)
	Depth(ctx context.Context) (int64, error)
}

// Depths is a point-in-time snapshot for the admin surface.
type Depths struct {
	Main    int64 `json:"main"`
	Delayed int64 `json:"delayed"`
}

func ReadDepths(ctx context.Context, main MainQueue, delayed DelayedQueue) (Depths, error) {
	m, err := main.Depth(ctx)
	if err != nil {
		return Depths{}, err
	}
	d, err := delayed.Depth(ctx)
	if err != nil {
		return Depths{}, err
	}
	return Depths{Main: m, Delayed: d}, nil
}
