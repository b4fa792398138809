package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RezaEskandarii/shotfire/custom_errors"
	"github.com/RezaEskandarii/shotfire/internal/lock"
	"github.com/RezaEskandarii/shotfire/internal/metrics"
	"github.com/RezaEskandarii/shotfire/internal/queue"
	"github.com/RezaEskandarii/shotfire/internal/state"
	"github.com/RezaEskandarii/shotfire/internal/store"
	"github.com/RezaEskandarii/shotfire/types"
)

// ManualRetryCoordinator resets a job on behalf of a user. It pre-empts a
// pending automatic retry by cancelling the delayed entry first: if promotion
// already claimed that entry the cancel loses and the request is rejected as a
// conflict, so the job is never queued twice.
type ManualRetryCoordinator struct {
	store          store.JobStore
	locks          *lock.JobLockManager
	main           queue.MainQueue
	delayed        queue.DelayedQueue
	quota          QuotaChecker
	stuckThreshold time.Duration
	metrics        *metrics.Metrics
	logger         *slog.Logger
	now            func() time.Time
}

type RetryOption func(*ManualRetryCoordinator)

func WithQuotaChecker(q QuotaChecker) RetryOption {
	return func(c *ManualRetryCoordinator) { c.quota = q }
}

func WithRetryMetrics(m *metrics.Metrics) RetryOption {
	return func(c *ManualRetryCoordinator) { c.metrics = m }
}

func WithRetryLogger(l *slog.Logger) RetryOption {
	return func(c *ManualRetryCoordinator) { c.logger = l }
}

func WithRetryClock(now func() time.Time) RetryOption {
	return func(c *ManualRetryCoordinator) { c.now = now }
}

func NewManualRetryCoordinator(
	s store.JobStore,
	locks *lock.JobLockManager,
	main queue.MainQueue,
	delayed queue.DelayedQueue,
	stuckThreshold time.Duration,
	opts ...RetryOption,
) *ManualRetryCoordinator {
	c := &ManualRetryCoordinator{
		store:          s,
		locks:          locks,
		main:           main,
		delayed:        delayed,
		quota:          UnlimitedQuota{},
		stuckThreshold: stuckThreshold,
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Retry returns a typed outcome for every expected result, including
// contention. The error is reserved for infrastructure failures.
func (c *ManualRetryCoordinator) Retry(ctx context.Context, jobID, requestedBy string) (types.RetryOutcome, error) {
	outcome, err := c.retry(ctx, jobID, requestedBy)
	if err != nil {
		c.metrics.ManualRetry("error")
		return types.RetryOutcome{}, err
	}
	c.metrics.ManualRetry(outcome.Status.String())
	c.logger.Info("manual retry",
		"job_id", jobID,
		"requested_by", requestedBy,
		"outcome", outcome.Status.String(),
		"message", outcome.Message,
	)
	return outcome, nil
}

func (c *ManualRetryCoordinator) retry(ctx context.Context, jobID, requestedBy string) (types.RetryOutcome, error) {
	job, err := c.store.FindByID(ctx, jobID)
	if errors.Is(err, custom_errors.ErrJobNotFound) || err == nil && job.OwnerID != requestedBy {
		return outcome(types.RetryNotFound, jobID, "job not found"), nil
	}
	if err != nil {
		return types.RetryOutcome{}, err
	}

	staleBefore := c.now().Add(-c.stuckThreshold)
	if status, msg := c.eligibility(job, staleBefore); status != types.RetryAccepted {
		return outcome(status, jobID, msg), nil
	}

	allowed, err := c.quota.HasRetryQuota(ctx, job.OwnerID)
	if err != nil {
		return types.RetryOutcome{}, fmt.Errorf("check retry quota: %w", err)
	}
	if !allowed {
		return outcome(types.RetryQuotaExceeded, jobID, custom_errors.ErrInsufficientQuota.Error()), nil
	}

	var pendingAt *time.Time
	if job.IsScheduled() {
		removed, err := c.delayed.Cancel(ctx, jobID)
		if err != nil {
			return types.RetryOutcome{}, fmt.Errorf("cancel pending retry: %w", err)
		}
		if !removed {
			return outcome(types.RetryConflict, jobID, "automatic retry is already being promoted"), nil
		}
		pendingAt = job.NextRetryAt
	}

	locked, ok, err := c.acquire(ctx, job, requestedBy, staleBefore)
	if err != nil || !ok {
		c.restore(ctx, jobID, pendingAt)
		if err != nil {
			return types.RetryOutcome{}, err
		}
		return outcome(types.RetryConflict, jobID, "job is locked by another operation"), nil
	}

	// The job may have moved between the snapshot and the lock.
	if status, msg := c.eligibility(locked, staleBefore); status != types.RetryAccepted {
		c.unlock(ctx, jobID, requestedBy)
		c.restore(ctx, jobID, pendingAt)
		return outcome(types.RetryConflict, jobID, "job changed concurrently: "+msg), nil
	}

	// Orphan reconciliation re-schedules overdue jobs under the lock, so it may
	// have put an entry back between the first cancel and acquiring the lock.
	if pendingAt != nil || locked.IsScheduled() {
		if _, err := c.delayed.Cancel(ctx, jobID); err != nil {
			c.unlock(ctx, jobID, requestedBy)
			c.restore(ctx, jobID, pendingAt)
			return types.RetryOutcome{}, fmt.Errorf("cancel pending retry: %w", err)
		}
	}

	previous := locked.Status
	locked.Status = state.StatusQueued
	locked.RetryType = state.RetryManual
	locked.NextRetryAt = nil
	locked.LockedBy = nil
	locked.LockedAt = nil

	saved, err := c.store.Save(ctx, locked, requestedBy)
	if err != nil {
		c.unlock(ctx, jobID, requestedBy)
		c.restore(ctx, jobID, pendingAt)
		return types.RetryOutcome{}, err
	}
	if !saved {
		c.restore(ctx, jobID, pendingAt)
		return outcome(types.RetryConflict, jobID, "job lock was lost"), nil
	}

	// The job is persisted QUEUED and unlocked before it is pushed, so a
	// worker popping it straight away always finds it runnable.
	position, err := c.main.Push(ctx, jobID)
	if err != nil {
		c.logger.Error("push manually retried job, leaving it for stalled job recovery", "job_id", jobID, "error", err)
	}

	if err := c.store.RecordAudit(ctx, types.RetryAudit{
		JobID:          jobID,
		Actor:          requestedBy,
		RetryType:      state.RetryManual,
		PreviousStatus: previous,
		At:             c.now(),
	}); err != nil {
		c.logger.Error("record retry audit", "job_id", jobID, "error", err)
	}

	res := outcome(types.RetryAccepted, jobID, "job queued for retry")
	res.QueuePosition = position
	return res, nil
}

// eligibility decides on a job snapshot. FAILED jobs qualify even with their
// automatic budget spent; permanent failures never do.
func (c *ManualRetryCoordinator) eligibility(job *types.Job, staleBefore time.Time) (types.RetryOutcomeStatus, string) {
	switch job.Status {
	case state.StatusFailed:
		if !job.IsRetryable {
			return types.RetryNotRetryable, "job failed permanently"
		}
		return types.RetryAccepted, ""
	case state.StatusProcessing:
		if job.IsStuck(staleBefore) {
			return types.RetryAccepted, ""
		}
		return types.RetryConflict, "job is being processed"
	case state.StatusQueued:
		if job.IsScheduled() {
			return types.RetryAccepted, ""
		}
		return types.RetryNotRetryable, "job is already queued"
	case state.StatusCompleted:
		return types.RetryNotRetryable, "job already completed"
	}
	return types.RetryNotRetryable, fmt.Sprintf("job status %s cannot be retried", job.Status)
}

func (c *ManualRetryCoordinator) acquire(ctx context.Context, job *types.Job, owner string, staleBefore time.Time) (*types.Job, bool, error) {
	if job.Status == state.StatusProcessing {
		return c.locks.TakeOverStale(ctx, job.ID, owner, staleBefore)
	}
	return c.locks.TryLock(ctx, job.ID, owner)
}

func (c *ManualRetryCoordinator) unlock(ctx context.Context, jobID, owner string) {
	if err := c.locks.Unlock(ctx, jobID, owner); err != nil {
		c.logger.Error("unlock after rejected manual retry", "job_id", jobID, "error", err)
	}
}

// restore puts back a delayed entry this request cancelled but could not replace.
func (c *ManualRetryCoordinator) restore(ctx context.Context, jobID string, at *time.Time) {
	if at == nil {
		return
	}
	if err := c.delayed.Schedule(ctx, jobID, *at); err != nil {
		c.logger.Error("restore cancelled delayed entry", "job_id", jobID, "error", err)
	}
}

func outcome(status types.RetryOutcomeStatus, jobID, msg string) types.RetryOutcome {
	return types.RetryOutcome{Status: status, JobID: jobID, Message: msg}
}
