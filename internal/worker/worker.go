package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/RezaEskandarii/shotfire/custom_errors"
	"github.com/RezaEskandarii/shotfire/internal/lock"
	"github.com/RezaEskandarii/shotfire/internal/metrics"
	"github.com/RezaEskandarii/shotfire/internal/queue"
	"github.com/RezaEskandarii/shotfire/internal/renderer"
	"github.com/RezaEskandarii/shotfire/internal/retry"
	"github.com/RezaEskandarii/shotfire/internal/state"
	"github.com/RezaEskandarii/shotfire/internal/store"
	"github.com/RezaEskandarii/shotfire/types"
)

// dueTolerance absorbs clock differences between the promoter and workers when
// deciding whether a popped job with a retry schedule is actually due.
const dueTolerance = 2 * time.Second

// Pool pops job ids from the main queue and renders them with bounded concurrency.
type Pool struct {
	id          string
	store       store.JobStore
	locks       *lock.JobLockManager
	main        queue.MainQueue
	delayed     queue.DelayedQueue
	planner     *retry.Planner
	renderer    renderer.Renderer
	metrics     *metrics.Metrics
	logger      *slog.Logger
	workerCount int
	popTimeout  time.Duration
	now         func() time.Time
}

type Option func(*Pool)

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

func WithConcurrency(workerCount int, popTimeout time.Duration) Option {
	return func(p *Pool) {
		p.workerCount = workerCount
		p.popTimeout = popTimeout
	}
}

func NewPool(
	id string,
	s store.JobStore,
	locks *lock.JobLockManager,
	main queue.MainQueue,
	delayed queue.DelayedQueue,
	planner *retry.Planner,
	r renderer.Renderer,
	opts ...Option,
) *Pool {
	p := &Pool{
		id:          id,
		store:       s,
		locks:       locks,
		main:        main,
		delayed:     delayed,
		planner:     planner,
		renderer:    r,
		logger:      slog.Default(),
		workerCount: 5,
		popTimeout:  2 * time.Second,
		now:         time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = p.logger.With("worker", p.id)
	return p
}

func (p *Pool) ID() string {
	return p.id
}

// Start pops until ctx is cancelled, then waits for in-flight jobs. Jobs run on
// a context detached from ctx so a shutdown lets them finish and record their
// outcome instead of leaving them stuck.
func (p *Pool) Start(ctx context.Context) error {
	sem := semaphore.NewWeighted(int64(p.workerCount))
	var wg sync.WaitGroup
	jobCtx := context.WithoutCancel(ctx)

	p.logger.Info("worker pool started", "concurrency", p.workerCount)
	defer p.logger.Info("worker pool stopped")

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil
		}

		jobID, ok, err := p.main.Pop(ctx, p.popTimeout)
		if err != nil {
			sem.Release(1)
			if ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			p.logger.Error("pop main queue", "error", err)
			if !sleep(ctx, time.Second) {
				wg.Wait()
				return nil
			}
			continue
		}
		if !ok {
			sem.Release(1)
			continue
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer sem.Release(1)
			if err := p.Process(jobCtx, id); err != nil {
				p.logger.Error("process job", "job_id", id, "error", err)
			}
		}(jobID)
	}
}

// Process runs one popped job id. A job that is locked elsewhere, no longer
// QUEUED, or scheduled for later is dropped; whoever owns it will requeue it.
func (p *Pool) Process(ctx context.Context, jobID string) error {
	job, ok, err := p.locks.TryLock(ctx, jobID, p.id)
	if err != nil {
		p.requeue(ctx, jobID)
		return fmt.Errorf("lock job: %w", err)
	}
	if !ok {
		return nil
	}

	if job.Status != state.StatusQueued {
		p.logger.Debug("dropping popped job that is not queued", "job_id", jobID, "status", job.Status)
		return p.locks.Unlock(ctx, jobID, p.id)
	}
	if job.NextRetryAt != nil && job.NextRetryAt.After(p.now().Add(dueTolerance)) {
		p.logger.Debug("dropping popped job scheduled for later", "job_id", jobID, "next_retry_at", job.NextRetryAt)
		return p.locks.Unlock(ctx, jobID, p.id)
	}
	if job.NextRetryAt != nil {
		// Promotion popped the entry but has not cleared the schedule yet.
		if _, err := p.delayed.Cancel(ctx, jobID); err != nil {
			p.logger.Warn("cancel delayed entry of running job", "job_id", jobID, "error", err)
		}
	}

	job.Status = state.StatusProcessing
	job.NextRetryAt = nil
	saved, err := p.store.Save(ctx, job, p.id)
	if err != nil {
		_ = p.locks.Unlock(ctx, jobID, p.id)
		return fmt.Errorf("mark processing: %w", err)
	}
	if !saved {
		return nil
	}

	started := p.now()
	result, renderErr := p.render(ctx, job.Request)
	elapsed := p.now().Sub(started)

	if renderErr != nil {
		decision, err := p.planner.RecordFailure(ctx, job, p.id, renderErr)
		if err != nil {
			return fmt.Errorf("record failure: %w", err)
		}
		p.logger.Info("render failed", "job_id", jobID, "decision", decision.String(), "took", elapsed)
		return nil
	}

	completedAt := p.now()
	ms := result.ProcessingTimeMs
	ref := result.ResultReference
	job.Status = state.StatusCompleted
	job.CompletedAt = &completedAt
	job.ResultReference = &ref
	job.ProcessingTimeMs = &ms
	job.ErrorMessage = nil
	job.LockedBy = nil
	job.LockedAt = nil

	saved, err = p.store.Save(ctx, job, p.id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if !saved {
		p.logger.Warn("lock lost while rendering, result discarded", "job_id", jobID)
		return nil
	}

	p.metrics.JobCompleted(elapsed.Seconds())
	p.planner.PublishCompleted(ctx, job)
	p.logger.Info("job completed", "job_id", jobID, "result", ref, "took", elapsed)
	return nil
}

// render converts a renderer panic into an ordinary failure so the job goes
// through the retry policy instead of waiting for stuck recovery.
func (p *Pool) render(ctx context.Context, req types.RenderRequest) (res types.RenderResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = custom_errors.NewRenderError(custom_errors.CategoryUnknown, fmt.Sprintf("renderer panic: %v", r))
		}
	}()
	return p.renderer.Render(ctx, req)
}

func (p *Pool) requeue(ctx context.Context, jobID string) {
	if _, err := p.main.Push(ctx, jobID); err != nil {
		p.logger.Error("return job to main queue", "job_id", jobID, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
