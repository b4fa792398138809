package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/RezaEskandarii/shotfire/custom_errors"
	"github.com/RezaEskandarii/shotfire/internal/state"
	"github.com/RezaEskandarii/shotfire/internal/store"
	"github.com/RezaEskandarii/shotfire/types"
	"github.com/google/uuid"
)

// JobStore keeps jobs in a mutex-guarded map. Every method copies in and out,
// so callers never share a *types.Job with the store.
type JobStore struct {
	mu     sync.Mutex
	jobs   map[string]*types.Job
	audits map[string][]types.RetryAudit
	now    func() time.Time
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs:   make(map[string]*types.Job),
		audits: make(map[string][]types.RetryAudit),
		now:    time.Now,
	}
}

// WithClock replaces the clock used for updatedAt and lockedAt. Tests use it to age jobs.
func (s *JobStore) WithClock(now func() time.Time) *JobStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

var _ store.JobStore = (*JobStore)(nil)

func (s *JobStore) Create(_ context.Context, job *types.Job) (*types.Job, error) {
	j := job.Clone()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	j.Status = state.StatusQueued
	j.CreatedAt = now
	j.UpdatedAt = now
	if err := store.CheckInvariants(j); err != nil {
		return nil, err
	}
	s.jobs[j.ID] = j
	return j.Clone(), nil
}

func (s *JobStore) FindByID(_ context.Context, id string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, custom_errors.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (s *JobStore) List(_ context.Context, status *state.JobStatus, page, pageSize int) (*types.PaginationResult[types.Job], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	matched := s.filter(func(j *types.Job) bool {
		return status == nil || j.Status == *status
	}, func(a, b *types.Job) bool { return a.CreatedAt.After(b.CreatedAt) }, 0)

	total := len(matched)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	totalPages := int(math.Ceil(float64(total) / float64(pageSize)))
	return &types.PaginationResult[types.Job]{
		Items:           matched[start:end],
		TotalItems:      total,
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}, nil
}

func (s *JobStore) TryLock(_ context.Context, id, owner string) (*types.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.LockedBy != nil {
		return nil, false, nil
	}
	s.lock(j, owner)
	return j.Clone(), true, nil
}

func (s *JobStore) TakeOverStale(_ context.Context, id, owner string, staleBefore time.Time) (*types.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || !j.IsStuck(staleBefore) {
		return nil, false, nil
	}
	if j.LockedAt != nil && !j.LockedAt.Before(staleBefore) {
		return nil, false, nil
	}
	s.lock(j, owner)
	return j.Clone(), true, nil
}

func (s *JobStore) lock(j *types.Job, owner string) {
	now := s.now()
	o := owner
	j.LockedBy = &o
	j.LockedAt = &now
}

func (s *JobStore) Unlock(_ context.Context, id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && j.IsLockedBy(owner) {
		j.LockedBy = nil
		j.LockedAt = nil
	}
	return nil
}

func (s *JobStore) ForceUnlock(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.LockedBy == nil {
		return false, nil
	}
	j.LockedBy = nil
	j.LockedAt = nil
	return true, nil
}

func (s *JobStore) Save(_ context.Context, job *types.Job, owner string) (bool, error) {
	if err := store.CheckInvariants(job); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[job.ID]
	if !ok || !current.IsLockedBy(owner) {
		return false, nil
	}

	next := job.Clone()
	next.OwnerID = current.OwnerID
	next.Request = current.Request
	next.MaxRetries = current.MaxRetries
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = s.now()
	s.jobs[job.ID] = next

	job.UpdatedAt = next.UpdatedAt
	return true, nil
}

func (s *JobStore) ClearNextRetryAt(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || !j.IsScheduled() {
		return false, nil
	}
	j.NextRetryAt = nil
	j.UpdatedAt = s.now()
	return true, nil
}

func (s *JobStore) FindStuckJobs(_ context.Context, staleBefore time.Time, limit int) ([]types.Job, error) {
	return s.filter(func(j *types.Job) bool {
		return j.IsStuck(staleBefore)
	}, byUpdatedAt, limit), nil
}

func (s *JobStore) FindRetryCandidates(_ context.Context, limit int) ([]types.Job, error) {
	return s.filter(func(j *types.Job) bool {
		return j.Status == state.StatusFailed &&
			state.CanRequeue(j.IsRetryable, j.RetryCount, j.MaxRetries) &&
			j.NextRetryAt == nil &&
			j.LockedBy == nil
	}, byUpdatedAt, limit), nil
}

func (s *JobStore) FindOrphanedRetries(_ context.Context, dueBefore time.Time, limit int) ([]types.Job, error) {
	return s.filter(func(j *types.Job) bool {
		return j.IsScheduled() && j.NextRetryAt.Before(dueBefore) && j.LockedBy == nil
	}, func(a, b *types.Job) bool { return a.NextRetryAt.Before(*b.NextRetryAt) }, limit), nil
}

func (s *JobStore) FindStalledQueued(_ context.Context, idleBefore time.Time, limit int) ([]types.Job, error) {
	return s.filter(func(j *types.Job) bool {
		return j.Status == state.StatusQueued && j.NextRetryAt == nil && j.LockedBy == nil && j.UpdatedAt.Before(idleBefore)
	}, byUpdatedAt, limit), nil
}

func (s *JobStore) ReleaseStaleLocks(_ context.Context, lockedBefore time.Time) ([]types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var released []types.Job
	for _, j := range s.jobs {
		if j.LockedBy == nil || j.Status == state.StatusProcessing {
			continue
		}
		if j.LockedAt != nil && j.LockedAt.Before(lockedBefore) {
			j.LockedBy = nil
			j.LockedAt = nil
			released = append(released, *j.Clone())
		}
	}
	return released, nil
}

func (s *JobStore) CountAllJobsGroupedByStatus(_ context.Context) (map[state.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[state.JobStatus]int, len(state.AllStatuses))
	for _, status := range state.AllStatuses {
		result[status] = 0
	}
	for _, j := range s.jobs {
		result[j.Status]++
	}
	return result, nil
}

func (s *JobStore) RecordAudit(_ context.Context, audit types.RetryAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits[audit.JobID] = append(s.audits[audit.JobID], audit)
	return nil
}

func (s *JobStore) ListAudit(_ context.Context, jobID string) ([]types.RetryAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.RetryAudit, len(s.audits[jobID]))
	copy(out, s.audits[jobID])
	return out, nil
}

func (s *JobStore) Close() error {
	return nil
}

// Put stores job as-is, bypassing locks and timestamps. Test setup only.
func (s *JobStore) Put(job *types.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
}

func byUpdatedAt(a, b *types.Job) bool {
	return a.UpdatedAt.Before(b.UpdatedAt)
}

func (s *JobStore) filter(keep func(*types.Job) bool, less func(a, b *types.Job) bool, limit int) []types.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*types.Job
	for _, j := range s.jobs {
		if keep(j) {
			matched = append(matched, j)
		}
	}
	sort.Slice(matched, func(i, k int) bool { return less(matched[i], matched[k]) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]types.Job, 0, len(matched))
	for _, j := range matched {
		out = append(out, *j.Clone())
	}
	return out
}
