package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/RezaEskandarii/shotfire/internal/store"
	"github.com/RezaEskandarii/shotfire/types"
)

// JobLockManager grants exclusive ownership of a single job. It is backed by a
// compare-and-swap on locked_by, so no separate lock service is involved.
type JobLockManager struct {
	store  store.JobStore
	logger *slog.Logger
}

func NewJobLockManager(s store.JobStore, logger *slog.Logger) *JobLockManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobLockManager{store: s, logger: logger}
}

// TryLock returns the locked job, or ok=false when another owner holds it.
func (m *JobLockManager) TryLock(ctx context.Context, jobID, ownerID string) (*types.Job, bool, error) {
	job, ok, err := m.store.TryLock(ctx, jobID, ownerID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		m.logger.Debug("job lock contended", "job_id", jobID, "owner", ownerID)
	}
	return job, ok, nil
}

// TakeOverStale revokes the lock of a stuck job and hands it to ownerID.
func (m *JobLockManager) TakeOverStale(ctx context.Context, jobID, ownerID string, staleBefore time.Time) (*types.Job, bool, error) {
	job, ok, err := m.store.TakeOverStale(ctx, jobID, ownerID, staleBefore)
	if err != nil {
		return nil, false, err
	}
	if ok {
		m.logger.Info("stale job lock revoked", "job_id", jobID, "owner", ownerID)
	}
	return job, ok, nil
}

// Unlock is idempotent.
func (m *JobLockManager) Unlock(ctx context.Context, jobID, ownerID string) error {
	return m.store.Unlock(ctx, jobID, ownerID)
}

func (m *JobLockManager) ForceUnlock(ctx context.Context, jobID string) (bool, error) {
	released, err := m.store.ForceUnlock(ctx, jobID)
	if err != nil {
		return false, err
	}
	if released {
		m.logger.Warn("job lock force released", "job_id", jobID)
	}
	return released, nil
}
