package mocks

import (
	"context"
	"time"
)

// MockMainQueue is a mock implementation of queue.MainQueue for testing.
type MockMainQueue struct {
	PushFunc  func(ctx context.Context, jobID string) (int64, error)
	PopFunc   func(ctx context.Context, timeout time.Duration) (string, bool, error)
	DepthFunc func(ctx context.Context) (int64, error)
}

func (m *MockMainQueue) Push(ctx context.Context, jobID string) (int64, error) {
	if m.PushFunc != nil {
		return m.PushFunc(ctx, jobID)
	}
	return 1, nil
}

func (m *MockMainQueue) Pop(ctx context.Context, timeout time.Duration) (string, bool, error) {
	if m.PopFunc != nil {
		return m.PopFunc(ctx, timeout)
	}
	return "", false, nil
}

func (m *MockMainQueue) Depth(ctx context.Context) (int64, error) {
	if m.DepthFunc != nil {
		return m.DepthFunc(ctx)
	}
	return 0, nil
}

// MockDelayedQueue is a mock implementation of queue.DelayedQueue for testing.
type MockDelayedQueue struct {
	ScheduleFunc func(ctx context.Context, jobID string, executeAt time.Time) error
	PopReadyFunc func(ctx context.Context, now time.Time, limit int) ([]string, error)
	CancelFunc   func(ctx context.Context, jobID string) (bool, error)
	DepthFunc    func(ctx context.Context) (int64, error)
}

func (m *MockDelayedQueue) Schedule(ctx context.Context, jobID string, executeAt time.Time) error {
	if m.ScheduleFunc != nil {
		return m.ScheduleFunc(ctx, jobID, executeAt)
	}
	return nil
}

func (m *MockDelayedQueue) PopReady(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if m.PopReadyFunc != nil {
		return m.PopReadyFunc(ctx, now, limit)
	}
	return nil, nil
}

func (m *MockDelayedQueue) Cancel(ctx context.Context, jobID string) (bool, error) {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, jobID)
	}
	return true, nil
}

func (m *MockDelayedQueue) Depth(ctx context.Context) (int64, error) {
	if m.DepthFunc != nil {
		return m.DepthFunc(ctx)
	}
	return 0, nil
}
