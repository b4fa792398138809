package test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/RezaEskandarii/shotfire/client"
	"github.com/RezaEskandarii/shotfire/internal/lock"
	"github.com/RezaEskandarii/shotfire/internal/queue/memory"
	"github.com/RezaEskandarii/shotfire/internal/state"
	memstore "github.com/RezaEskandarii/shotfire/internal/store/memory"
	"github.com/RezaEskandarii/shotfire/types"
	"github.com/stretchr/testify/require"
)

const (
	ownerID        = "owner-1"
	stuckThreshold = 30 * time.Minute
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type harness struct {
	store   *memstore.JobStore
	main    *memory.MainQueue
	delayed *memory.DelayedQueue
	locks   *lock.JobLockManager
	retries *client.ManualRetryCoordinator
	manager *client.JobManager
}

func newHarness(opts ...client.RetryOption) *harness {
	h := &harness{
		store:   memstore.NewJobStore(),
		main:    memory.NewMainQueue(),
		delayed: memory.NewDelayedQueue(),
	}
	h.locks = lock.NewJobLockManager(h.store, quiet)
	h.retries = client.NewManualRetryCoordinator(h.store, h.locks, h.main, h.delayed, stuckThreshold,
		append([]client.RetryOption{client.WithRetryLogger(quiet)}, opts...)...)
	h.manager = client.NewJobManager(h.store, h.locks, h.main, h.delayed, h.retries, nil, 3, quiet)
	return h
}

func (h *harness) put(job *types.Job) {
	if job.OwnerID == "" {
		job.OwnerID = ownerID
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = 3
	}
	h.store.Put(job)
}

func (h *harness) find(t *testing.T, id string) *types.Job {
	t.Helper()
	job, err := h.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return job
}

func failedJob(id string, retryable bool, retryCount int) *types.Job {
	msg := "renderer returned 503"
	return &types.Job{
		ID:                id,
		Status:            state.StatusFailed,
		IsRetryable:       retryable,
		RetryCount:        retryCount,
		ErrorMessage:      &msg,
		LastFailureReason: &msg,
		RetryType:         state.RetryAutomatic,
		UpdatedAt:         time.Now(),
	}
}
