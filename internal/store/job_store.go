package store

import (
	"context"
	"time"

	"github.com/RezaEskandarii/shotfire/internal/state"
	"github.com/RezaEskandarii/shotfire/types"
)

// JobStore is the durable record of render jobs. Every mutation is a
// conditional write; lock contention is reported through the bool result,
// never through err.
type JobStore interface {
	// Create assigns an id and timestamps and inserts job as QUEUED.
	Create(ctx context.Context, job *types.Job) (*types.Job, error)

	// FindByID returns custom_errors.ErrJobNotFound when id is unknown.
	FindByID(ctx context.Context, id string) (*types.Job, error)

	// List pages through jobs, optionally filtered by status.
	List(ctx context.Context, status *state.JobStatus, page, pageSize int) (*types.PaginationResult[types.Job], error)

	// TryLock sets locked_by=owner only if the job is currently unlocked.
	TryLock(ctx context.Context, id, owner string) (*types.Job, bool, error)

	// TakeOverStale moves the lock of a PROCESSING job that has been idle since
	// before staleBefore to owner. Only one caller can win per stale period.
	TakeOverStale(ctx context.Context, id, owner string, staleBefore time.Time) (*types.Job, bool, error)

	// Unlock releases the lock if owner holds it. Calling it again is a no-op.
	Unlock(ctx context.Context, id, owner string) error

	// ForceUnlock releases the lock whoever holds it. Reports whether a lock was held.
	ForceUnlock(ctx context.Context, id string) (bool, error)

	// Save writes every mutable field of job provided owner still holds the lock.
	// A nil job.LockedBy releases the lock in the same write. updatedAt is bumped.
	Save(ctx context.Context, job *types.Job, owner string) (bool, error)

	// ClearNextRetryAt drops the schedule of a QUEUED job that has just been promoted.
	ClearNextRetryAt(ctx context.Context, id string) (bool, error)

	// FindStuckJobs returns PROCESSING jobs not updated since staleBefore.
	FindStuckJobs(ctx context.Context, staleBefore time.Time, limit int) ([]types.Job, error)

	// FindRetryCandidates returns unlocked FAILED jobs that are retryable, have
	// budget left and no retry scheduled yet.
	FindRetryCandidates(ctx context.Context, limit int) ([]types.Job, error)

	// FindOrphanedRetries returns unlocked QUEUED jobs whose nextRetryAt passed before dueBefore.
	FindOrphanedRetries(ctx context.Context, dueBefore time.Time, limit int) ([]types.Job, error)

	// FindStalledQueued returns unlocked, unscheduled QUEUED jobs untouched since
	// idleBefore. These are jobs whose main queue push may never have happened.
	FindStalledQueued(ctx context.Context, idleBefore time.Time, limit int) ([]types.Job, error)

	// ReleaseStaleLocks clears locks taken before lockedBefore on jobs that are
	// not PROCESSING and returns the released jobs.
	ReleaseStaleLocks(ctx context.Context, lockedBefore time.Time) ([]types.Job, error)

	CountAllJobsGroupedByStatus(ctx context.Context) (map[state.JobStatus]int, error)

	RecordAudit(ctx context.Context, audit types.RetryAudit) error

	ListAudit(ctx context.Context, jobID string) ([]types.RetryAudit, error)

	// Close closes the database
	Close() error
}
