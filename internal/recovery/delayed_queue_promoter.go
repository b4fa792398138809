package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RezaEskandarii/shotfire/internal/metrics"
	"github.com/RezaEskandarii/shotfire/internal/queue"
	"github.com/RezaEskandarii/shotfire/internal/store"
)

// DelayedQueuePromoter moves due retries from the delayed queue to the main queue.
type DelayedQueuePromoter struct {
	store     store.JobStore
	main      queue.MainQueue
	delayed   queue.DelayedQueue
	batchSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       clock
}

func NewDelayedQueuePromoter(
	s store.JobStore,
	main queue.MainQueue,
	delayed queue.DelayedQueue,
	batchSize int,
	m *metrics.Metrics,
	logger *slog.Logger,
) *DelayedQueuePromoter {
	return &DelayedQueuePromoter{
		store:     s,
		main:      main,
		delayed:   delayed,
		batchSize: batchSize,
		metrics:   m,
		logger:    loggerOrDefault(logger).With("task", TaskDelayedPromoter),
		now:       time.Now,
	}
}

func (p *DelayedQueuePromoter) Name() string {
	return TaskDelayedPromoter
}

// Run drains every entry due now, batch by batch. An id is pushed to the main
// queue before nextRetryAt is cleared, so a crash in between leaves a due
// schedule that the worker still accepts rather than a job in neither place.
func (p *DelayedQueuePromoter) Run(ctx context.Context) error {
	total := 0
	defer func() {
		p.metrics.Promoted(total)
		if total > 0 {
			p.logger.Info("delayed retries promoted", "count", total)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := p.now()
		ids, popErr := p.delayed.PopReady(ctx, now, p.batchSize)
		// Claimed ids are already off the delayed queue, so they are promoted
		// even when the pop reported an error part way through.
		for _, id := range ids {
			if p.promote(ctx, id, now) {
				total++
			}
		}
		if popErr != nil {
			return fmt.Errorf("pop ready retries: %w", popErr)
		}
		if len(ids) < p.batchSize {
			return nil
		}
	}
}

func (p *DelayedQueuePromoter) promote(ctx context.Context, jobID string, now time.Time) bool {
	if _, err := p.main.Push(ctx, jobID); err != nil {
		p.logger.Error("push promoted job, returning it to the delayed queue", "job_id", jobID, "error", err)
		if err := p.delayed.Schedule(ctx, jobID, now); err != nil {
			p.logger.Error("return job to delayed queue", "job_id", jobID, "error", err)
		}
		return false
	}
	// Pushing first means a failed push leaves the schedule intact for the
	// retry above. The cost is a window where the job sits in the main queue
	// with nextRetryAt still set; a clear that keeps failing leaves it there
	// until orphan reconciliation re-adds it and the worker drops the duplicate.
	if _, err := p.store.ClearNextRetryAt(ctx, jobID); err != nil {
		p.logger.Warn("clear next retry after promotion, retrying", "job_id", jobID, "error", err)
		if _, err := p.store.ClearNextRetryAt(ctx, jobID); err != nil {
			p.logger.Error("clear next retry after promotion", "job_id", jobID, "error", err)
		}
	}
	return true
}
