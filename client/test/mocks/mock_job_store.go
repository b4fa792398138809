package mocks

import (
	"context"
	"time"

	"github.com/RezaEskandarii/shotfire/internal/state"
	"github.com/RezaEskandarii/shotfire/types"
)

// MockJobStore is a mock implementation of store.JobStore for testing.
type MockJobStore struct {
	CreateFunc                      func(ctx context.Context, job *types.Job) (*types.Job, error)
	FindByIDFunc                    func(ctx context.Context, id string) (*types.Job, error)
	ListFunc                        func(ctx context.Context, status *state.JobStatus, page, pageSize int) (*types.PaginationResult[types.Job], error)
	TryLockFunc                     func(ctx context.Context, id, owner string) (*types.Job, bool, error)
	TakeOverStaleFunc               func(ctx context.Context, id, owner string, staleBefore time.Time) (*types.Job, bool, error)
	UnlockFunc                      func(ctx context.Context, id, owner string) error
	ForceUnlockFunc                 func(ctx context.Context, id string) (bool, error)
	SaveFunc                        func(ctx context.Context, job *types.Job, owner string) (bool, error)
	ClearNextRetryAtFunc            func(ctx context.Context, id string) (bool, error)
	FindStuckJobsFunc               func(ctx context.Context, staleBefore time.Time, limit int) ([]types.Job, error)
	FindRetryCandidatesFunc         func(ctx context.Context, limit int) ([]types.Job, error)
	FindOrphanedRetriesFunc         func(ctx context.Context, dueBefore time.Time, limit int) ([]types.Job, error)
	FindStalledQueuedFunc           func(ctx context.Context, idleBefore time.Time, limit int) ([]types.Job, error)
	ReleaseStaleLocksFunc           func(ctx context.Context, lockedBefore time.Time) ([]types.Job, error)
	CountAllJobsGroupedByStatusFunc func(ctx context.Context) (map[state.JobStatus]int, error)
	RecordAuditFunc                 func(ctx context.Context, audit types.RetryAudit) error
	ListAuditFunc                   func(ctx context.Context, jobID string) ([]types.RetryAudit, error)
	CloseFunc                       func() error
}

func (m *MockJobStore) Create(ctx context.Context, job *types.Job) (*types.Job, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, job)
	}
	return job, nil
}

func (m *MockJobStore) FindByID(ctx context.Context, id string) (*types.Job, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockJobStore) List(ctx context.Context, status *state.JobStatus, page, pageSize int) (*types.PaginationResult[types.Job], error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, status, page, pageSize)
	}
	return &types.PaginationResult[types.Job]{Items: []types.Job{}}, nil
}

func (m *MockJobStore) TryLock(ctx context.Context, id, owner string) (*types.Job, bool, error) {
	if m.TryLockFunc != nil {
		return m.TryLockFunc(ctx, id, owner)
	}
	return nil, false, nil
}

func (m *MockJobStore) TakeOverStale(ctx context.Context, id, owner string, staleBefore time.Time) (*types.Job, bool, error) {
	if m.TakeOverStaleFunc != nil {
		return m.TakeOverStaleFunc(ctx, id, owner, staleBefore)
	}
	return nil, false, nil
}

func (m *MockJobStore) Unlock(ctx context.Context, id, owner string) error {
	if m.UnlockFunc != nil {
		return m.UnlockFunc(ctx, id, owner)
	}
	return nil
}

func (m *MockJobStore) ForceUnlock(ctx context.Context, id string) (bool, error) {
	if m.ForceUnlockFunc != nil {
		return m.ForceUnlockFunc(ctx, id)
	}
	return false, nil
}

func (m *MockJobStore) Save(ctx context.Context, job *types.Job, owner string) (bool, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, job, owner)
	}
	return true, nil
}

func (m *MockJobStore) ClearNextRetryAt(ctx context.Context, id string) (bool, error) {
	if m.ClearNextRetryAtFunc != nil {
		return m.ClearNextRetryAtFunc(ctx, id)
	}
	return false, nil
}

func (m *MockJobStore) FindStuckJobs(ctx context.Context, staleBefore time.Time, limit int) ([]types.Job, error) {
	if m.FindStuckJobsFunc != nil {
		return m.FindStuckJobsFunc(ctx, staleBefore, limit)
	}
	return nil, nil
}

func (m *MockJobStore) FindRetryCandidates(ctx context.Context, limit int) ([]types.Job, error) {
	if m.FindRetryCandidatesFunc != nil {
		return m.FindRetryCandidatesFunc(ctx, limit)
	}
	return nil, nil
}

func (m *MockJobStore) FindOrphanedRetries(ctx context.Context, dueBefore time.Time, limit int) ([]types.Job, error) {
	if m.FindOrphanedRetriesFunc != nil {
		return m.FindOrphanedRetriesFunc(ctx, dueBefore, limit)
	}
	return nil, nil
}

func (m *MockJobStore) FindStalledQueued(ctx context.Context, idleBefore time.Time, limit int) ([]types.Job, error) {
	if m.FindStalledQueuedFunc != nil {
		return m.FindStalledQueuedFunc(ctx, idleBefore, limit)
	}
	return nil, nil
}

func (m *MockJobStore) ReleaseStaleLocks(ctx context.Context, lockedBefore time.Time) ([]types.Job, error) {
	if m.ReleaseStaleLocksFunc != nil {
		return m.ReleaseStaleLocksFunc(ctx, lockedBefore)
	}
	return nil, nil
}

func (m *MockJobStore) CountAllJobsGroupedByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	if m.CountAllJobsGroupedByStatusFunc != nil {
		return m.CountAllJobsGroupedByStatusFunc(ctx)
	}
	return map[state.JobStatus]int{}, nil
}

func (m *MockJobStore) RecordAudit(ctx context.Context, audit types.RetryAudit) error {
	if m.RecordAuditFunc != nil {
		return m.RecordAuditFunc(ctx, audit)
	}
	return nil
}

func (m *MockJobStore) ListAudit(ctx context.Context, jobID string) ([]types.RetryAudit, error) {
	if m.ListAuditFunc != nil {
		return m.ListAuditFunc(ctx, jobID)
	}
	return nil, nil
}

func (m *MockJobStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
