package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RezaEskandarii/shotfire/internal/lock"
	"github.com/RezaEskandarii/shotfire/internal/queue"
	"github.com/RezaEskandarii/shotfire/internal/retry"
	"github.com/RezaEskandarii/shotfire/internal/state"
	"github.com/RezaEskandarii/shotfire/internal/store"
	"github.com/RezaEskandarii/shotfire/types"
)

// FailedJobRetryProcessor schedules automatic retries for FAILED jobs that still
// have budget but no pending attempt. It also repairs the two ways a job can
// fall out of both queues: a scheduled retry whose delayed entry was never
// written, and a QUEUED job whose main queue push never happened.
type FailedJobRetryProcessor struct {
	store        store.JobStore
	locks        *lock.JobLockManager
	main         queue.MainQueue
	delayed      queue.DelayedQueue
	planner      *retry.Planner
	owner        string
	batchSize    int
	orphanGrace  time.Duration
	stalledAfter time.Duration
	logger       *slog.Logger
	now          clock
}

func NewFailedJobRetryProcessor(
	s store.JobStore,
	locks *lock.JobLockManager,
	main queue.MainQueue,
	delayed queue.DelayedQueue,
	planner *retry.Planner,
	owner string,
	batchSize int,
	orphanGrace time.Duration,
	stalledAfter time.Duration,
	logger *slog.Logger,
) *FailedJobRetryProcessor {
	return &FailedJobRetryProcessor{
		store:        s,
		locks:        locks,
		main:         main,
		delayed:      delayed,
		planner:      planner,
		owner:        owner,
		batchSize:    batchSize,
		orphanGrace:  orphanGrace,
		stalledAfter: stalledAfter,
		logger:       loggerOrDefault(logger).With("task", TaskFailedRetries),
		now:          time.Now,
	}
}

func (p *FailedJobRetryProcessor) Name() string {
	return TaskFailedRetries
}

func (p *FailedJobRetryProcessor) Run(ctx context.Context) error {
	scheduled, err := p.scheduleCandidates(ctx)
	if err != nil {
		return err
	}
	repaired, err := p.reconcileOrphans(ctx)
	if err != nil {
		return err
	}
	requeued, err := p.requeueStalled(ctx)
	if err != nil {
		return err
	}

	if scheduled > 0 || repaired > 0 || requeued > 0 {
		p.logger.Info("failed job retry pass finished",
			"scheduled", scheduled,
			"orphans_repaired", repaired,
			"stalled_requeued", requeued,
		)
	}
	return nil
}

func (p *FailedJobRetryProcessor) scheduleCandidates(ctx context.Context) (int, error) {
	candidates, err := p.store.FindRetryCandidates(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("find retry candidates: %w", err)
	}

	scheduled := 0
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return scheduled, err
		}
		p.withLock(ctx, candidate.ID, func(job *types.Job) bool {
			eligible := job.Status == state.StatusFailed &&
				job.NextRetryAt == nil &&
				state.CanRequeue(job.IsRetryable, job.RetryCount, job.MaxRetries)
			if !eligible {
				return false
			}
			decision, err := p.planner.ScheduleRetry(ctx, job, p.owner)
			if err != nil {
				p.logger.Error("schedule retry", "job_id", job.ID, "error", err)
				return false
			}
			if decision == retry.DecisionRetryScheduled {
				scheduled++
			}
			return true
		})
	}
	return scheduled, nil
}

// reconcileOrphans re-adds delayed entries for jobs that are overdue by more
// than the grace period. Schedule is idempotent, so a job whose entry is only
// late rather than missing is left as it was.
func (p *FailedJobRetryProcessor) reconcileOrphans(ctx context.Context) (int, error) {
	dueBefore := p.now().Add(-p.orphanGrace)
	orphans, err := p.store.FindOrphanedRetries(ctx, dueBefore, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("find orphaned retries: %w", err)
	}

	repaired := 0
	for _, orphan := range orphans {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		p.withLock(ctx, orphan.ID, func(job *types.Job) bool {
			if !job.IsScheduled() {
				return false
			}
			if err := p.delayed.Schedule(ctx, job.ID, *job.NextRetryAt); err != nil {
				p.logger.Error("reschedule orphaned retry", "job_id", job.ID, "error", err)
				return false
			}
			repaired++
			return false
		})
	}
	return repaired, nil
}

// requeueStalled pushes QUEUED jobs that have sat unscheduled and untouched
// for stalledAfter. Saving bumps updatedAt, so a job already waiting in a long
// main queue is pushed at most once per stalledAfter. Duplicate ids are
// harmless because a worker only runs a job it finds QUEUED under its lock.
func (p *FailedJobRetryProcessor) requeueStalled(ctx context.Context) (int, error) {
	if p.stalledAfter <= 0 {
		return 0, nil
	}
	stalled, err := p.store.FindStalledQueued(ctx, p.now().Add(-p.stalledAfter), p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("find stalled queued jobs: %w", err)
	}

	requeued := 0
	for _, candidate := range stalled {
		if err := ctx.Err(); err != nil {
			return requeued, err
		}
		p.withLock(ctx, candidate.ID, func(job *types.Job) bool {
			if job.Status != state.StatusQueued || job.NextRetryAt != nil {
				return false
			}
			job.LockedBy = nil
			job.LockedAt = nil
			ok, err := p.store.Save(ctx, job, p.owner)
			if err != nil || !ok {
				p.logger.Error("touch stalled job", "job_id", job.ID, "saved", ok, "error", err)
				return false
			}
			if _, err := p.main.Push(ctx, job.ID); err != nil {
				p.logger.Error("requeue stalled job", "job_id", job.ID, "error", err)
				return true
			}
			requeued++
			return true
		})
	}
	return requeued, nil
}

// withLock runs fn on the freshly locked job. fn reports whether it already
// released the lock; otherwise withLock releases it.
func (p *FailedJobRetryProcessor) withLock(ctx context.Context, jobID string, fn func(job *types.Job) bool) {
	job, ok, err := p.locks.TryLock(ctx, jobID, p.owner)
	if err != nil {
		p.logger.Error("lock job", "job_id", jobID, "error", err)
		return
	}
	if !ok {
		return
	}
	if released := fn(job); released {
		return
	}
	if err := p.locks.Unlock(ctx, jobID, p.owner); err != nil {
		p.logger.Error("unlock job", "job_id", jobID, "error", err)
	}
}
