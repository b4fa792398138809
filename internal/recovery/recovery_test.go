package recovery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/RezaEskandarii/shotfire/internal/lock"
	"github.com/RezaEskandarii/shotfire/internal/queue/memory"
	"github.com/RezaEskandarii/shotfire/internal/retry"
	"github.com/RezaEskandarii/shotfire/internal/state"
	memstore "github.com/RezaEskandarii/shotfire/internal/store/memory"
	"github.com/RezaEskandarii/shotfire/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type env struct {
	mu      sync.Mutex
	now     time.Time
	store   *memstore.JobStore
	main    *memory.MainQueue
	delayed *memory.DelayedQueue
	locks   *lock.JobLockManager
	planner *retry.Planner
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		now:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		main:    memory.NewMainQueue(),
		delayed: memory.NewDelayedQueue(),
	}
	e.store = memstore.NewJobStore().WithClock(e.clock)
	e.locks = lock.NewJobLockManager(e.store, quiet)
	policy := retry.NewExponentialPolicy(3, 5*time.Second, 5, time.Hour, true)
	e.planner = retry.NewPlanner(e.store, e.delayed, policy, retry.WithLogger(quiet), retry.WithClock(e.clock))
	return e
}

func (e *env) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *env) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

func (e *env) recoverer(owner string) *StuckJobRecoverer {
	r := NewStuckJobRecoverer(e.store, e.locks, e.main, e.planner, owner, 30*time.Minute, 100, nil, quiet)
	r.now = e.clock
	return r
}

func (e *env) processor() *FailedJobRetryProcessor {
	p := NewFailedJobRetryProcessor(e.store, e.locks, e.main, e.delayed, e.planner, "recovery", 100, time.Minute, 30*time.Minute, quiet)
	p.now = e.clock
	return p
}

func (e *env) promoter(batch int) *DelayedQueuePromoter {
	p := NewDelayedQueuePromoter(e.store, e.main, e.delayed, batch, nil, quiet)
	p.now = e.clock
	return p
}

// processingJob creates a job and moves it to PROCESSING under owner at the current clock.
func (e *env) processingJob(t *testing.T, owner string) string {
	t.Helper()
	ctx := context.Background()
	job, err := e.store.Create(ctx, types.NewJob("owner-1", types.RenderRequest{URL: "https://example.com", Format: types.FormatPNG}, 3))
	require.NoError(t, err)
	locked, ok, err := e.store.TryLock(ctx, job.ID, owner)
	require.NoError(t, err)
	require.True(t, ok)
	locked.Status = state.StatusProcessing
	ok, err = e.store.Save(ctx, locked, owner)
	require.NoError(t, err)
	require.True(t, ok)
	return job.ID
}

func (e *env) find(t *testing.T, id string) *types.Job {
	t.Helper()
	job, err := e.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return job
}

func TestStuckJobRecoverer_ReclaimsExactlyOnce(t *testing.T) {
	e := newEnv(t)
	id := e.processingJob(t, "dead-worker")
	e.advance(time.Hour)

	var wg sync.WaitGroup
	for _, owner := range []string{"reaper-a", "reaper-b", "reaper-c"} {
		wg.Add(1)
		go func(r *StuckJobRecoverer) {
			defer wg.Done()
			assert.NoError(t, r.Run(context.Background()))
		}(e.recoverer(owner))
	}
	wg.Wait()

	job := e.find(t, id)
	assert.Equal(t, state.StatusQueued, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, state.RetryAutomatic, job.RetryType)
	assert.False(t, job.IsLocked())
	require.NotNil(t, job.NextRetryAt)

	executeAt, ok := e.delayed.Contains(id)
	require.True(t, ok)
	assert.Equal(t, e.clock().Add(5*time.Second), executeAt)

	depth, _ := e.delayed.Depth(context.Background())
	assert.Equal(t, int64(1), depth)
}

func TestStuckJobRecoverer_LeavesFreshJobAlone(t *testing.T) {
	e := newEnv(t)
	id := e.processingJob(t, "live-worker")
	e.advance(10 * time.Minute)

	require.NoError(t, e.recoverer("reaper").Run(context.Background()))

	job := e.find(t, id)
	assert.Equal(t, state.StatusProcessing, job.Status)
	assert.True(t, job.IsLockedBy("live-worker"))
	assert.Equal(t, 0, job.RetryCount)
}

func TestStuckJobRecoverer_LastAttemptBecomesTerminal(t *testing.T) {
	e := newEnv(t)
	id := e.processingJob(t, "dead-worker")

	job := e.find(t, id)
	job.RetryCount = 2
	e.store.Put(job)
	e.advance(time.Hour)

	require.NoError(t, e.recoverer("reaper").Run(context.Background()))

	job = e.find(t, id)
	assert.Equal(t, state.StatusFailed, job.Status)
	assert.Equal(t, 3, job.RetryCount)
	assert.False(t, job.IsLocked())
	_, scheduled := e.delayed.Contains(id)
	assert.False(t, scheduled)
}

func TestStuckJobRecoverer_ReleasesAbandonedQueuedLock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job, err := e.store.Create(ctx, types.NewJob("owner-1", types.RenderRequest{URL: "https://example.com"}, 3))
	require.NoError(t, err)
	_, ok, _ := e.store.TryLock(ctx, job.ID, "crashed-worker")
	require.True(t, ok)
	e.advance(time.Hour)

	require.NoError(t, e.recoverer("reaper").Run(ctx))

	assert.False(t, e.find(t, job.ID).IsLocked())
	assert.Equal(t, []string{job.ID}, e.main.Snapshot())
}

func TestFailedJobRetryProcessor_SchedulesEligibleJobs(t *testing.T) {
	e := newEnv(t)
	msg := "upstream: 502"
	e.store.Put(&types.Job{ID: "eligible", OwnerID: "o", Status: state.StatusFailed, IsRetryable: true, RetryCount: 2, MaxRetries: 3, ErrorMessage: &msg})
	e.store.Put(&types.Job{ID: "exhausted", OwnerID: "o", Status: state.StatusFailed, IsRetryable: true, RetryCount: 3, MaxRetries: 3, ErrorMessage: &msg})
	e.store.Put(&types.Job{ID: "permanent", OwnerID: "o", Status: state.StatusFailed, IsRetryable: false, RetryCount: 1, MaxRetries: 3, ErrorMessage: &msg})

	require.NoError(t, e.processor().Run(context.Background()))

	job := e.find(t, "eligible")
	assert.Equal(t, state.StatusQueued, job.Status)
	assert.Equal(t, 2, job.RetryCount, "scheduling does not consume budget")
	assert.False(t, job.IsLocked())
	executeAt, ok := e.delayed.Contains("eligible")
	require.True(t, ok)
	assert.Equal(t, e.clock().Add(25*time.Second), executeAt)

	audits, err := e.store.ListAudit(context.Background(), "eligible")
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, state.RetryAutomatic, audits[0].RetryType)
	assert.Equal(t, state.StatusFailed, audits[0].PreviousStatus)

	for _, id := range []string{"exhausted", "permanent"} {
		assert.Equal(t, state.StatusFailed, e.find(t, id).Status, id)
		_, ok := e.delayed.Contains(id)
		assert.False(t, ok, id)
	}
}

func TestFailedJobRetryProcessor_SkipsLockedCandidate(t *testing.T) {
	e := newEnv(t)
	msg := "timeout"
	holder := "manual-retry"
	at := e.clock()
	e.store.Put(&types.Job{ID: "busy", OwnerID: "o", Status: state.StatusFailed, IsRetryable: true, RetryCount: 1, MaxRetries: 3, ErrorMessage: &msg, LockedBy: &holder, LockedAt: &at})

	require.NoError(t, e.processor().Run(context.Background()))

	job := e.find(t, "busy")
	assert.Equal(t, state.StatusFailed, job.Status)
	assert.True(t, job.IsLockedBy(holder))
}

func TestFailedJobRetryProcessor_RepairsOrphanedSchedule(t *testing.T) {
	e := newEnv(t)
	due := e.clock().Add(-10 * time.Minute)
	e.store.Put(&types.Job{ID: "orphan", OwnerID: "o", Status: state.StatusQueued, IsRetryable: true, RetryCount: 1, MaxRetries: 3, NextRetryAt: &due, UpdatedAt: due})

	require.NoError(t, e.processor().Run(context.Background()))

	executeAt, ok := e.delayed.Contains("orphan")
	require.True(t, ok)
	assert.Equal(t, due, executeAt)
	assert.False(t, e.find(t, "orphan").IsLocked())
	assert.Empty(t, e.main.Snapshot())
}

func TestFailedJobRetryProcessor_RequeuesStalledJobOnce(t *testing.T) {
	e := newEnv(t)
	old := e.clock().Add(-2 * time.Hour)
	e.store.Put(&types.Job{ID: "stalled", OwnerID: "o", Status: state.StatusQueued, IsRetryable: true, MaxRetries: 3, CreatedAt: old, UpdatedAt: old})

	p := e.processor()
	require.NoError(t, p.Run(context.Background()))
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, []string{"stalled"}, e.main.Snapshot())
	job := e.find(t, "stalled")
	assert.False(t, job.IsLocked())
	assert.Equal(t, e.clock(), job.UpdatedAt)
}

func TestDelayedQueuePromoter_PromotesOnlyDueEntries(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	due := e.clock().Add(-time.Second)
	later := e.clock().Add(time.Hour)
	e.store.Put(&types.Job{ID: "due", OwnerID: "o", Status: state.StatusQueued, IsRetryable: true, RetryCount: 1, MaxRetries: 3, NextRetryAt: &due})
	e.store.Put(&types.Job{ID: "later", OwnerID: "o", Status: state.StatusQueued, IsRetryable: true, RetryCount: 1, MaxRetries: 3, NextRetryAt: &later})
	require.NoError(t, e.delayed.Schedule(ctx, "due", due))
	require.NoError(t, e.delayed.Schedule(ctx, "later", later))

	require.NoError(t, e.promoter(10).Run(ctx))

	assert.Equal(t, []string{"due"}, e.main.Snapshot())
	_, inDelayed := e.delayed.Contains("due")
	assert.False(t, inDelayed, "a promoted job must not stay in the delayed queue")
	assert.Nil(t, e.find(t, "due").NextRetryAt)

	_, inDelayed = e.delayed.Contains("later")
	assert.True(t, inDelayed)
	assert.NotNil(t, e.find(t, "later").NextRetryAt)
}

func TestDelayedQueuePromoter_DrainsInBatches(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ids := []string{"a", "b", "c", "d", "e"}
	for i, id := range ids {
		at := e.clock().Add(-time.Duration(len(ids)-i) * time.Second)
		e.store.Put(&types.Job{ID: id, OwnerID: "o", Status: state.StatusQueued, IsRetryable: true, RetryCount: 1, MaxRetries: 3, NextRetryAt: &at})
		require.NoError(t, e.delayed.Schedule(ctx, id, at))
	}

	require.NoError(t, e.promoter(2).Run(ctx))

	assert.Equal(t, ids, e.main.Snapshot())
	depth, _ := e.delayed.Depth(ctx)
	assert.Zero(t, depth)
}

// faultyStore fails selected writes of the in-memory store.
type faultyStore struct {
	*memstore.JobStore
	saveErr    error
	unlockErr  error
	clearErrs  int
	clearCalls int
}

func (s *faultyStore) Save(ctx context.Context, job *types.Job, owner string) (bool, error) {
	if s.saveErr != nil {
		return false, s.saveErr
	}
	return s.JobStore.Save(ctx, job, owner)
}

func (s *faultyStore) Unlock(ctx context.Context, id, owner string) error {
	if s.unlockErr != nil {
		return s.unlockErr
	}
	return s.JobStore.Unlock(ctx, id, owner)
}

func (s *faultyStore) ClearNextRetryAt(ctx context.Context, id string) (bool, error) {
	s.clearCalls++
	if s.clearCalls <= s.clearErrs {
		return false, errors.New("connection reset")
	}
	return s.JobStore.ClearNextRetryAt(ctx, id)
}

func TestDelayedQueuePromoter_RetriesFailedClear(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	due := e.clock().Add(-time.Second)
	e.store.Put(&types.Job{ID: "due", OwnerID: "o", Status: state.StatusQueued, IsRetryable: true, RetryCount: 1, MaxRetries: 3, NextRetryAt: &due})
	require.NoError(t, e.delayed.Schedule(ctx, "due", due))

	faulty := &faultyStore{JobStore: e.store, clearErrs: 1}
	p := NewDelayedQueuePromoter(faulty, e.main, e.delayed, 10, nil, quiet)
	p.now = e.clock

	require.NoError(t, p.Run(ctx))

	assert.Equal(t, 2, faulty.clearCalls)
	assert.Equal(t, []string{"due"}, e.main.Snapshot())
	assert.Nil(t, e.find(t, "due").NextRetryAt)
}

func TestStuckJobRecoverer_ReleasesLockWhenFailureIsNotRecorded(t *testing.T) {
	tests := []struct {
		name      string
		unlockErr error
		wantLock  bool
		wantLog   string
	}{
		{"lock released", nil, false, "reclaim stuck job"},
		{"unlock error is logged", errors.New("connection reset"), true, "unlock job"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			id := e.processingJob(t, "dead-worker")
			e.advance(time.Hour)

			faulty := &faultyStore{JobStore: e.store, saveErr: errors.New("deadlock detected"), unlockErr: tt.unlockErr}
			planner := retry.NewPlanner(faulty, e.delayed, retry.NewExponentialPolicy(3, 5*time.Second, 5, time.Hour, true),
				retry.WithLogger(quiet), retry.WithClock(e.clock))
			var logs bytes.Buffer
			r := NewStuckJobRecoverer(e.store, lock.NewJobLockManager(faulty, quiet), e.main, planner, "reaper",
				30*time.Minute, 100, nil, slog.New(slog.NewTextHandler(&logs, nil)))
			r.now = e.clock

			require.NoError(t, r.Run(context.Background()))

			job := e.find(t, id)
			assert.Equal(t, state.StatusProcessing, job.Status)
			assert.Equal(t, 0, job.RetryCount)
			assert.Equal(t, tt.wantLock, job.IsLockedBy("reaper"))
			assert.Contains(t, logs.String(), tt.wantLog)
		})
	}
}

// A worker crash leaves a job stuck; recovery schedules it and promotion hands
// it back to the main queue without it ever sitting in both queues.
func TestRecovery_StuckJobFlowsBackToMainQueue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.processingJob(t, "dead-worker")
	e.advance(time.Hour)

	require.NoError(t, e.recoverer("reaper").Run(ctx))
	assert.Empty(t, e.main.Snapshot())

	e.advance(4 * time.Second)
	require.NoError(t, e.promoter(10).Run(ctx))
	assert.Empty(t, e.main.Snapshot(), "not due yet")

	e.advance(time.Second)
	require.NoError(t, e.promoter(10).Run(ctx))
	assert.Equal(t, []string{id}, e.main.Snapshot())
	_, inDelayed := e.delayed.Contains(id)
	assert.False(t, inDelayed)

	job := e.find(t, id)
	assert.Equal(t, state.StatusQueued, job.Status)
	assert.Nil(t, job.NextRetryAt)
	assert.Equal(t, 1, job.RetryCount)
}
