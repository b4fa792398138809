package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RezaEskandarii/shotfire/custom_errors"
	"github.com/RezaEskandarii/shotfire/internal/lock"
	"github.com/RezaEskandarii/shotfire/internal/metrics"
	"github.com/RezaEskandarii/shotfire/internal/queue"
	"github.com/RezaEskandarii/shotfire/internal/retry"
	"github.com/RezaEskandarii/shotfire/internal/state"
	"github.com/RezaEskandarii/shotfire/internal/store"
)

// StuckJobRecoverer reclaims jobs left in PROCESSING by a worker that died,
// and releases locks abandoned on jobs that never reached PROCESSING.
type StuckJobRecoverer struct {
	store     store.JobStore
	locks     *lock.JobLockManager
	main      queue.MainQueue
	planner   *retry.Planner
	owner     string
	threshold time.Duration
	batchSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       clock
}

func NewStuckJobRecoverer(
	s store.JobStore,
	locks *lock.JobLockManager,
	main queue.MainQueue,
	planner *retry.Planner,
	owner string,
	threshold time.Duration,
	batchSize int,
	m *metrics.Metrics,
	logger *slog.Logger,
) *StuckJobRecoverer {
	return &StuckJobRecoverer{
		store:     s,
		locks:     locks,
		main:      main,
		planner:   planner,
		owner:     owner,
		threshold: threshold,
		batchSize: batchSize,
		metrics:   m,
		logger:    loggerOrDefault(logger).With("task", TaskStuckJobs),
		now:       time.Now,
	}
}

func (r *StuckJobRecoverer) Name() string {
	return TaskStuckJobs
}

func (r *StuckJobRecoverer) Run(ctx context.Context) error {
	staleBefore := r.now().Add(-r.threshold)

	jobs, err := r.store.FindStuckJobs(ctx, staleBefore, r.batchSize)
	if err != nil {
		return fmt.Errorf("find stuck jobs: %w", err)
	}

	reclaimed := 0
	for _, candidate := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := r.reclaim(ctx, candidate.ID, staleBefore)
		if err != nil {
			r.logger.Error("reclaim stuck job", "job_id", candidate.ID, "error", err)
			continue
		}
		if ok {
			reclaimed++
		}
	}

	released, err := r.releaseStaleLocks(ctx, staleBefore)
	if err != nil {
		return err
	}

	if reclaimed > 0 || released > 0 {
		r.logger.Info("stuck job recovery finished", "reclaimed", reclaimed, "locks_released", released)
	}
	return nil
}

// reclaim takes the stale lock over and records a timeout failure, which hands
// the job to the normal automatic retry path. Only one caller wins the takeover.
func (r *StuckJobRecoverer) reclaim(ctx context.Context, jobID string, staleBefore time.Time) (bool, error) {
	job, ok, err := r.locks.TakeOverStale(ctx, jobID, r.owner, staleBefore)
	if err != nil || !ok {
		return false, err
	}

	cause := custom_errors.NewRenderError(custom_errors.CategoryTimeout,
		fmt.Sprintf("job stuck in PROCESSING since %s", job.UpdatedAt.UTC().Format(time.RFC3339)))

	decision, err := r.planner.RecordFailure(ctx, job, r.owner, cause)
	if err != nil {
		if unlockErr := r.locks.Unlock(ctx, jobID, r.owner); unlockErr != nil {
			r.logger.Error("unlock job", "job_id", jobID, "error", unlockErr)
		}
		return false, err
	}
	if decision == retry.DecisionLockLost {
		return false, nil
	}

	r.metrics.StuckJobReclaimed()
	r.logger.Warn("stuck job reclaimed", "job_id", jobID, "decision", decision.String(), "retry_count", job.RetryCount)
	return true, nil
}

// releaseStaleLocks frees locks held on non-PROCESSING jobs. A released QUEUED
// job without a retry schedule was popped by its holder before it crashed, so
// it goes back on the main queue.
func (r *StuckJobRecoverer) releaseStaleLocks(ctx context.Context, lockedBefore time.Time) (int, error) {
	released, err := r.store.ReleaseStaleLocks(ctx, lockedBefore)
	if err != nil {
		return 0, fmt.Errorf("release stale locks: %w", err)
	}
	r.metrics.StaleLocksReleased(len(released))

	for _, job := range released {
		if job.Status != state.StatusQueued || job.NextRetryAt != nil {
			continue
		}
		if _, err := r.main.Push(ctx, job.ID); err != nil {
			r.logger.Error("requeue job after stale lock release", "job_id", job.ID, "error", err)
		}
	}
	return len(released), nil
}
