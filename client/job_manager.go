package client

import (
	"context"
	"errors"
	"log/slog"

	"github.com/RezaEskandarii/shotfire/custom_errors"
	"github.com/RezaEskandarii/shotfire/internal/lock"
	"github.com/RezaEskandarii/shotfire/internal/queue"
	"github.com/RezaEskandarii/shotfire/internal/state"
	"github.com/RezaEskandarii/shotfire/internal/store"
	"github.com/RezaEskandarii/shotfire/types"
)

// URLValidator rejects render targets the service must not fetch.
type URLValidator interface {
	Validate(ctx context.Context, rawURL string) error
}

const maxDimension = 16384

// JobManager is the facade the HTTP layer talks to.
type JobManager struct {
	store      store.JobStore
	locks      *lock.JobLockManager
	main       queue.MainQueue
	delayed    queue.DelayedQueue
	retries    *ManualRetryCoordinator
	validator  URLValidator
	maxRetries int
	logger     *slog.Logger
}

func NewJobManager(
	s store.JobStore,
	locks *lock.JobLockManager,
	main queue.MainQueue,
	delayed queue.DelayedQueue,
	retries *ManualRetryCoordinator,
	validator URLValidator,
	maxRetries int,
	logger *slog.Logger,
) *JobManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobManager{
		store:      s,
		locks:      locks,
		main:       main,
		delayed:    delayed,
		retries:    retries,
		validator:  validator,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Submit persists a new QUEUED job and pushes it to the main queue. A failed
// push is not reported to the caller: the job exists and stalled job recovery
// will queue it.
func (m *JobManager) Submit(ctx context.Context, ownerID string, req types.RenderRequest) (types.SubmitResult, error) {
	if req.Format == "" {
		req.Format = types.FormatPNG
	}
	if err := m.validate(ctx, ownerID, req); err != nil {
		return types.SubmitResult{}, err
	}

	job, err := m.store.Create(ctx, types.NewJob(ownerID, req, m.maxRetries))
	if err != nil {
		return types.SubmitResult{}, err
	}

	position, err := m.main.Push(ctx, job.ID)
	if err != nil {
		m.logger.Error("push submitted job", "job_id", job.ID, "error", err)
	}
	m.logger.Info("job submitted", "job_id", job.ID, "owner_id", ownerID, "queue_position", position)
	return types.SubmitResult{JobID: job.ID, QueuePosition: position}, nil
}

func (m *JobManager) validate(ctx context.Context, ownerID string, req types.RenderRequest) error {
	verr := &custom_errors.ValidationError{}
	if ownerID == "" {
		verr.Add(errors.New("owner id is required"))
	}
	if req.URL == "" {
		verr.Add(errors.New("url is required"))
	} else if m.validator != nil {
		if err := m.validator.Validate(ctx, req.URL); err != nil {
			if !errors.Is(err, custom_errors.ErrURLRejected) {
				return err
			}
			verr.Add(err)
		}
	}
	if !req.Format.Valid() {
		verr.Add(errors.New("unsupported format: " + string(req.Format)))
	}
	if req.Width < 0 || req.Width > maxDimension || req.Height < 0 || req.Height > maxDimension {
		verr.Add(errors.New("width and height must be between 0 and 16384"))
	}
	if req.Wait.DelayMs < 0 {
		verr.Add(errors.New("wait delay must not be negative"))
	}
	if verr.HasError() {
		return verr
	}
	return nil
}

// Find returns the job only to its owner. An empty ownerID skips the check
// and is meant for the admin surface.
func (m *JobManager) Find(ctx context.Context, ownerID, jobID string) (*types.Job, error) {
	job, err := m.store.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && job.OwnerID != ownerID {
		return nil, custom_errors.ErrJobNotFound
	}
	return job, nil
}

func (m *JobManager) List(ctx context.Context, status *state.JobStatus, page, pageSize int) (*types.PaginationResult[types.Job], error) {
	return m.store.List(ctx, status, page, pageSize)
}

func (m *JobManager) Retry(ctx context.Context, jobID, requestedBy string) (types.RetryOutcome, error) {
	return m.retries.Retry(ctx, jobID, requestedBy)
}

func (m *JobManager) RetryHistory(ctx context.Context, jobID string) ([]types.RetryAudit, error) {
	return m.store.ListAudit(ctx, jobID)
}

func (m *JobManager) QueueDepths(ctx context.Context) (queue.Depths, error) {
	return queue.ReadDepths(ctx, m.main, m.delayed)
}

func (m *JobManager) CountByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	return m.store.CountAllJobsGroupedByStatus(ctx)
}

// ForceUnlock is the operator escape hatch for a lock whose holder is known dead.
func (m *JobManager) ForceUnlock(ctx context.Context, jobID string) (bool, error) {
	if _, err := m.store.FindByID(ctx, jobID); err != nil {
		return false, err
	}
	return m.locks.ForceUnlock(ctx, jobID)
}
