package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RezaEskandarii/shotfire/custom_errors"
	"github.com/RezaEskandarii/shotfire/internal/message_broaker"
	"github.com/RezaEskandarii/shotfire/internal/metrics"
	"github.com/RezaEskandarii/shotfire/internal/queue"
	"github.com/RezaEskandarii/shotfire/internal/state"
	"github.com/RezaEskandarii/shotfire/internal/store"
	"github.com/RezaEskandarii/shotfire/types"
)

type Decision int

const (
	DecisionRetryScheduled Decision = iota + 1
	DecisionTerminal
	// DecisionLockLost means another owner took the job while we were deciding; nothing was written.
	DecisionLockLost
)

func (d Decision) String() string {
	switch d {
	case DecisionRetryScheduled:
		return "retry_scheduled"
	case DecisionTerminal:
		return "terminal"
	case DecisionLockLost:
		return "lock_lost"
	}
	return "unknown"
}

// Planner applies Policy decisions to a locked job. The worker, the stuck job
// recoverer and the failed job retry processor all go through it so that the
// automatic retry path is written in one place.
type Planner struct {
	store   store.JobStore
	delayed queue.DelayedQueue
	policy  Policy
	events  message_broaker.EventPublisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

type PlannerOption func(*Planner)

func WithEvents(p message_broaker.EventPublisher) PlannerOption {
	return func(pl *Planner) { pl.events = p }
}

func WithMetrics(m *metrics.Metrics) PlannerOption {
	return func(pl *Planner) { pl.metrics = m }
}

func WithLogger(l *slog.Logger) PlannerOption {
	return func(pl *Planner) { pl.logger = l }
}

func WithClock(now func() time.Time) PlannerOption {
	return func(pl *Planner) { pl.now = now }
}

func NewPlanner(s store.JobStore, delayed queue.DelayedQueue, policy Policy, opts ...PlannerOption) *Planner {
	p := &Planner{
		store:   s,
		delayed: delayed,
		policy:  policy,
		events:  message_broaker.NoopEventPublisher{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Planner) Policy() Policy {
	return p.policy
}

// RecordFailure persists a failed attempt of a PROCESSING job held by owner
// and, when the policy allows it, schedules the next automatic attempt.
// If the process dies between the two writes the job is left FAILED and
// unscheduled, which is exactly what FailedJobRetryProcessor picks up.
func (p *Planner) RecordFailure(ctx context.Context, job *types.Job, owner string, cause error) (Decision, error) {
	if !state.IsValidTransition(job.Status, state.StatusFailed) {
		return 0, fmt.Errorf("%w: %s -> %s", custom_errors.ErrInvalidTransition, job.Status, state.StatusFailed)
	}

	category := custom_errors.Classify(cause)
	reason := cause.Error()

	job.Status = state.StatusFailed
	job.NextRetryAt = nil
	job.LastFailureReason = &reason
	job.ErrorMessage = &reason
	job.RetryCount = min(job.RetryCount+1, job.MaxRetries)
	if !p.policy.ShouldRetry(cause) {
		job.IsRetryable = false
	}

	retry := state.CanRequeue(job.IsRetryable, job.RetryCount, job.MaxRetries)
	if !retry {
		job.LockedBy = nil
		job.LockedAt = nil
	}

	ok, err := p.store.Save(ctx, job, owner)
	if err != nil {
		return 0, err
	}
	if !ok {
		p.logger.Warn("lock lost before recording failure", "job_id", job.ID, "owner", owner)
		return DecisionLockLost, nil
	}

	p.metrics.JobFailed(category.String(), 0)
	p.logger.Info("job attempt failed",
		"job_id", job.ID,
		"category", category.String(),
		"retry_count", job.RetryCount,
		"max_retries", job.MaxRetries,
		"retryable", job.IsRetryable,
		"error", reason,
	)

	if !retry {
		p.publish(ctx, job, types.EventJobFailed)
		return DecisionTerminal, nil
	}
	return p.ScheduleRetry(ctx, job, owner)
}

// ScheduleRetry moves a FAILED job held by owner back to QUEUED with a backoff,
// puts it on the delayed queue and releases the lock. retryCount is not touched.
func (p *Planner) ScheduleRetry(ctx context.Context, job *types.Job, owner string) (Decision, error) {
	if !state.IsValidTransition(job.Status, state.StatusQueued) {
		return 0, fmt.Errorf("%w: %s -> %s", custom_errors.ErrInvalidTransition, job.Status, state.StatusQueued)
	}
	if !state.CanRequeue(job.IsRetryable, job.RetryCount, job.MaxRetries) {
		return 0, fmt.Errorf("%w: job %s has no retry budget left", custom_errors.ErrInvalidTransition, job.ID)
	}

	previous := job.Status
	delay := p.policy.CalculateDelay(job.RetryCount)
	executeAt := p.now().Add(delay)

	job.Status = state.StatusQueued
	job.NextRetryAt = &executeAt
	job.RetryType = state.RetryAutomatic

	ok, err := p.store.Save(ctx, job, owner)
	if err != nil {
		return 0, err
	}
	if !ok {
		p.logger.Warn("lock lost before scheduling retry", "job_id", job.ID, "owner", owner)
		return DecisionLockLost, nil
	}

	// A failed queue write leaves the job QUEUED with nextRetryAt set; the
	// orphan reconciliation in FailedJobRetryProcessor re-adds it.
	if err := p.delayed.Schedule(ctx, job.ID, executeAt); err != nil {
		p.logger.Error("delayed queue write failed, leaving job for reconciliation", "job_id", job.ID, "error", err)
	}

	if err := p.store.Unlock(ctx, job.ID, owner); err != nil {
		p.logger.Error("unlock after scheduling retry", "job_id", job.ID, "error", err)
	}
	job.LockedBy = nil
	job.LockedAt = nil

	if err := p.store.RecordAudit(ctx, types.RetryAudit{
		JobID:          job.ID,
		Actor:          owner,
		RetryType:      state.RetryAutomatic,
		PreviousStatus: previous,
		At:             p.now(),
	}); err != nil {
		p.logger.Error("record retry audit", "job_id", job.ID, "error", err)
	}

	p.metrics.RetryScheduled(state.RetryAutomatic.String())
	p.logger.Info("automatic retry scheduled",
		"job_id", job.ID,
		"retry_count", job.RetryCount,
		"delay", delay.String(),
		"execute_at", executeAt,
	)
	return DecisionRetryScheduled, nil
}

func (p *Planner) publish(ctx context.Context, job *types.Job, eventType string) {
	err := p.events.PublishJobEvent(ctx, types.JobEvent{
		Type:            eventType,
		JobID:           job.ID,
		OwnerID:         job.OwnerID,
		Status:          job.Status,
		RetryCount:      job.RetryCount,
		ResultReference: job.ResultReference,
		ErrorMessage:    job.ErrorMessage,
		At:              p.now(),
	})
	if err != nil {
		p.logger.Error("publish job event", "job_id", job.ID, "type", eventType, "error", err)
	}
}

// PublishCompleted emits job.completed for a job the caller has just saved.
func (p *Planner) PublishCompleted(ctx context.Context, job *types.Job) {
	p.publish(ctx, job, types.EventJobCompleted)
}
