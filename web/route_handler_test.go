package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/RezaEskandarii/shotfire/app"
	memstore "github.com/RezaEskandarii/shotfire/internal/store/memory"
	"github.com/RezaEskandarii/shotfire/internal/state"
	"github.com/RezaEskandarii/shotfire/types"
	"github.com/RezaEskandarii/shotfire/types/config"
)

type testServer struct {
	container *app.Container
	store     *memstore.JobStore
	handler   http.Handler
}

func newTestServer(t *testing.T, mutate func(*config.HTTPConfig)) *testServer {
	t.Helper()
	cfg, err := config.NewConfig("web-test",
		config.WithStorageDriver(config.MemoryStorage),
		config.WithQueueDriver(config.MemoryQueue),
	)
	require.NoError(t, err)
	cfg.Renderer.ValidateURLs = false
	if mutate != nil {
		mutate(&cfg.HTTP)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := app.NewContainer(context.Background(), cfg, app.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	h := NewRouteHandler(c.JobManager, c.Scheduler, c.Metrics, cfg.HTTP, logger)
	return &testServer{
		container: c,
		store:     c.JobStore.(*memstore.JobStore),
		handler:   h.Router(),
	}
}

func (s *testServer) do(t *testing.T, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if owner != "" {
		req.Header.Set(ownerHeader, owner)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) putFailed(id, owner string) {
	msg := "upstream returned 502"
	s.store.Put(&types.Job{
		ID:                id,
		OwnerID:           owner,
		Request:           types.RenderRequest{URL: "https://example.com", Format: types.FormatPNG},
		Status:            state.StatusFailed,
		RetryCount:        3,
		MaxRetries:        3,
		IsRetryable:       true,
		RetryType:         state.RetryAutomatic,
		ErrorMessage:      &msg,
		LastFailureReason: &msg,
		CreatedAt:         time.Now().Add(-time.Hour),
		UpdatedAt:         time.Now().Add(-time.Hour),
	})
}

func TestSubmitAndGetJob(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/jobs", "alice", `{"url":"https://example.com","width":1280,"height":720}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	res := decode[types.SubmitResult](t, rec)
	assert.NotEmpty(t, res.JobID)
	assert.Equal(t, int64(1), res.QueuePosition)

	rec = s.do(t, http.MethodGet, "/jobs/"+res.JobID, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode[types.Job](t, rec)
	assert.Equal(t, state.StatusQueued, job.Status)
	assert.Equal(t, types.FormatPNG, job.Request.Format)

	rec = s.do(t, http.MethodGet, "/jobs/"+res.JobID, "mallory", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "foreign jobs are invisible")
}

func TestSubmitValidation(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		owner  string
		body   string
		status int
	}{
		{"missing owner", "", `{"url":"https://example.com"}`, http.StatusUnauthorized},
		{"malformed body", "alice", `{"url":`, http.StatusBadRequest},
		{"private address", "alice", `{"url":"http://10.0.0.5/admin"}`, http.StatusBadRequest},
		{"bad format", "alice", `{"url":"https://example.com","format":"gif"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/jobs", tt.owner, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := s.do(t, http.MethodPost, "/jobs", "alice", `{"url":"ftp://example.com","width":-1}`)
	body := decode[errorResponse](t, rec)
	assert.Len(t, body.Details, 2)
}

func TestRetryEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.putFailed("job-1", "alice")

	rec := s.do(t, http.MethodPost, "/jobs/job-1/retry", "alice", `{"requestedBy":"alice"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	outcome := decode[types.RetryOutcome](t, rec)
	assert.Equal(t, "job-1", outcome.JobID)
	assert.Equal(t, int64(1), outcome.QueuePosition)

	job, err := s.store.FindByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, state.StatusQueued, job.Status)
	assert.Equal(t, state.RetryManual, job.RetryType)

	rec = s.do(t, http.MethodPost, "/jobs/job-1/retry", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "already queued")

	rec = s.do(t, http.MethodPost, "/jobs/job-1/retry", "bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/jobs/job-1/retry", "alice", `{"requestedBy":"bob"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryEndpoint_RateLimited(t *testing.T) {
	s := newTestServer(t, func(c *config.HTTPConfig) {
		c.RetryRateLimit = 0.001
		c.RetryRateBurst = 1
	})

	rec := s.do(t, http.MethodPost, "/jobs/missing/retry", "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/jobs/missing/retry", "alice", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = s.do(t, http.MethodPost, "/jobs/missing/retry", "bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "buckets are per actor")
}

func TestAdminAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	s := newTestServer(t, func(c *config.HTTPConfig) {
		c.AdminUserName = "ops"
		c.AdminPasswordHash = string(hash)
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/queues", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req = httptest.NewRequest(http.MethodGet, "/admin/queues", nil)
	req.SetBasicAuth("ops", "wrong")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/queues", nil)
	req.SetBasicAuth("ops", "s3cret")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminAuth_Operators(t *testing.T) {
	s := newTestServer(t, nil)
	operators := memstore.NewOperatorStore()
	_, err := operators.Upsert(context.Background(), "alice", "hunter2")
	require.NoError(t, err)

	c := s.container
	handler := NewRouteHandler(c.JobManager, c.Scheduler, c.Metrics, c.Config.HTTP, c.Logger,
		WithAdminAuthenticator(operators)).Router()

	tests := []struct {
		name     string
		user     string
		password string
		status   int
	}{
		{"operator", "alice", "hunter2", http.StatusOK},
		{"wrong password", "alice", "hunter3", http.StatusUnauthorized},
		{"unknown operator", "bob", "hunter2", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/scheduler", nil)
			req.SetBasicAuth(tt.user, tt.password)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestAdminQueuesAndJobs(t *testing.T) {
	s := newTestServer(t, nil)
	s.putFailed("job-1", "alice")
	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/jobs", "alice", `{"url":"https://example.com"}`).Code)

	rec := s.do(t, http.MethodGet, "/admin/queues", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Queues struct {
			Main    int64 `json:"main"`
			Delayed int64 `json:"delayed"`
		} `json:"queues"`
		Jobs map[state.JobStatus]int `json:"jobs"`
	}](t, rec)
	assert.Equal(t, int64(1), body.Queues.Main)
	assert.Equal(t, 1, body.Jobs[state.StatusFailed])
	assert.Equal(t, 1, body.Jobs[state.StatusQueued])

	rec = s.do(t, http.MethodGet, "/admin/jobs?status=failed", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[types.PaginationResult[types.Job]](t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "job-1", page.Items[0].ID)

	rec = s.do(t, http.MethodGet, "/admin/jobs?status=bogus", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/admin/jobs/job-1", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/jobs/job-1/retry", "alice", "").Code)
	rec = s.do(t, http.MethodGet, "/admin/jobs/job-1/retries", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	audits := decode[[]types.RetryAudit](t, rec)
	require.Len(t, audits, 1)
	assert.Equal(t, state.RetryManual, audits[0].RetryType)
}

func TestAdminUnlock(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	job, err := s.store.Create(ctx, types.NewJob("alice", types.RenderRequest{URL: "https://example.com", Format: types.FormatPNG}, 3))
	require.NoError(t, err)
	_, ok, err := s.store.TryLock(ctx, job.ID, "dead-worker")
	require.NoError(t, err)
	require.True(t, ok)

	rec := s.do(t, http.MethodPost, "/admin/jobs/"+job.ID+"/unlock", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unlocked":true`)

	found, _ := s.store.FindByID(ctx, job.ID)
	assert.False(t, found.IsLocked())

	rec = s.do(t, http.MethodPost, "/admin/jobs/missing/unlock", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminScheduler(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/admin/scheduler", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 3)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/admin/scheduler/stuck-jobs/pause", "", "").Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/admin/scheduler/stuck-jobs/resume", "", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/admin/scheduler/nope/pause", "", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/admin/scheduler/stuck-jobs/explode", "", "").Code)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/admin/scheduler/stuck-jobs/run", "", "").Code,
		"scheduler not started")

	require.NoError(t, s.container.Scheduler.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.container.Scheduler.Stop(ctx)
	})
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/admin/scheduler/delayed-promoter/run", "", "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `shotfire_queue_depth{queue="main"} 0`)

	c := s.container
	h := NewRouteHandler(c.JobManager, c.Scheduler, c.Metrics, c.Config.HTTP, c.Logger,
		WithHealthCheck(func(context.Context) error { return errors.New("db down") }))
	rec = httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
