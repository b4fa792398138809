package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/RezaEskandarii/shotfire/internal/metrics"
	"github.com/RezaEskandarii/shotfire/internal/queue"
	"github.com/RezaEskandarii/shotfire/internal/recovery"
	"github.com/RezaEskandarii/shotfire/internal/state"
	"github.com/RezaEskandarii/shotfire/types"
	"github.com/RezaEskandarii/shotfire/types/config"
)

// JobService is the part of client.JobManager the HTTP surface needs.
type JobService interface {
	Submit(ctx context.Context, ownerID string, req types.RenderRequest) (types.SubmitResult, error)
	Find(ctx context.Context, ownerID, jobID string) (*types.Job, error)
	List(ctx context.Context, status *state.JobStatus, page, pageSize int) (*types.PaginationResult[types.Job], error)
	Retry(ctx context.Context, jobID, requestedBy string) (types.RetryOutcome, error)
	RetryHistory(ctx context.Context, jobID string) ([]types.RetryAudit, error)
	QueueDepths(ctx context.Context) (queue.Depths, error)
	CountByStatus(ctx context.Context) (map[state.JobStatus]int, error)
	ForceUnlock(ctx context.Context, jobID string) (bool, error)
}

// SchedulerControl is the admin view of recovery.RetryScheduler.
type SchedulerControl interface {
	Status() []recovery.TaskStatus
	Pause(name string) error
	Resume(name string) error
	RunNow(name string) error
}

type HttpRouteHandler struct {
	jobs      JobService
	scheduler SchedulerControl
	metrics   *metrics.Metrics
	config    config.HTTPConfig
	logger    *slog.Logger
	limiter   *actorRateLimiter
	ping      func(context.Context) error
	admins    []AdminAuthenticator
}

type RouteOption func(*HttpRouteHandler)

// WithAdminAuthenticator adds a credential source for the admin routes.
func WithAdminAuthenticator(a AdminAuthenticator) RouteOption {
	return func(h *HttpRouteHandler) { h.admins = append(h.admins, a) }
}

// WithHealthCheck makes /healthz report 503 while ping fails.
func WithHealthCheck(ping func(context.Context) error) RouteOption {
	return func(h *HttpRouteHandler) { h.ping = ping }
}

func NewRouteHandler(
	jobs JobService,
	scheduler SchedulerControl,
	m *metrics.Metrics,
	cfg config.HTTPConfig,
	logger *slog.Logger,
	opts ...RouteOption,
) *HttpRouteHandler {
	h := &HttpRouteHandler{
		jobs:      jobs,
		scheduler: scheduler,
		metrics:   m,
		config:    cfg,
		logger:    logger,
		limiter:   newActorRateLimiter(cfg.RetryRateLimit, cfg.RetryRateBurst, 10*time.Minute),
	}
	if cfg.AdminUserName != "" {
		h.admins = append(h.admins, StaticAdmin{UserName: cfg.AdminUserName, PasswordHash: cfg.AdminPasswordHash})
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *HttpRouteHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/healthz", h.handleHealth)
	r.Get("/metrics", h.handleMetrics)

	r.Route("/jobs", func(r chi.Router) {
		r.Use(requireOwner)
		r.Post("/", h.handleSubmit)
		r.Get("/{jobId}", h.handleGetJob)
		r.Post("/{jobId}/retry", h.handleRetry)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminAuth(h.logger, h.admins))
		r.Get("/queues", h.handleQueues)
		r.Get("/jobs", h.handleListJobs)
		r.Get("/jobs/{jobId}", h.handleAdminGetJob)
		r.Get("/jobs/{jobId}/retries", h.handleRetryHistory)
		r.Post("/jobs/{jobId}/unlock", h.handleUnlock)
		r.Get("/scheduler", h.handleSchedulerStatus)
		r.Post("/scheduler/{task}/{action}", h.handleSchedulerAction)
	})
	return r
}

// Serve listens on the configured address until ctx is cancelled, then shuts
// down gracefully within ShutdownTimeout.
func (h *HttpRouteHandler) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              h.config.ListenAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		printBanner(h.config.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	sweep := time.NewTicker(5 * time.Minute)
	defer sweep.Stop()
	for {
		select {
		case err := <-errCh:
			return err
		case <-sweep.C:
			h.limiter.sweep()
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.config.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}
	}
}

func (h *HttpRouteHandler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.DebugContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get(ownerHeader)) == "" {
			writeError(w, http.StatusUnauthorized, ownerHeader+" header is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ownerOf(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ownerHeader))
}

func (h *HttpRouteHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics refreshes the queue depth gauges before each scrape.
func (h *HttpRouteHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if depths, err := h.jobs.QueueDepths(r.Context()); err == nil {
		h.metrics.SetQueueDepth("main", depths.Main)
		h.metrics.SetQueueDepth("delayed", depths.Delayed)
	} else {
		h.logger.WarnContext(r.Context(), "read queue depths", "error", err)
	}
	h.metrics.Handler().ServeHTTP(w, r)
}

func (h *HttpRouteHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req types.RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.jobs.Submit(r.Context(), ownerOf(r), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *HttpRouteHandler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Find(r.Context(), ownerOf(r), chi.URLParam(r, "jobId"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type retryRequest struct {
	RequestedBy string `json:"requestedBy"`
}

func (h *HttpRouteHandler) handleRetry(w http.ResponseWriter, r *http.Request) {
	actor := ownerOf(r)
	var body retryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.RequestedBy != "" && body.RequestedBy != actor {
		writeError(w, http.StatusBadRequest, "requestedBy does not match the caller")
		return
	}
	if !h.limiter.Allow(actor) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	outcome, err := h.jobs.Retry(r.Context(), chi.URLParam(r, "jobId"), actor)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, outcome.Status.HTTPStatus(), outcome)
}

func (h *HttpRouteHandler) handleQueues(w http.ResponseWriter, r *http.Request) {
	depths, err := h.jobs.QueueDepths(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	counts, err := h.jobs.CountByStatus(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.metrics.SetQueueDepth("main", depths.Main)
	h.metrics.SetQueueDepth("delayed", depths.Delayed)
	writeJSON(w, http.StatusOK, map[string]any{
		"queues": depths,
		"jobs":   counts,
	})
}

func (h *HttpRouteHandler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var status *state.JobStatus
	if raw := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))); raw != "" {
		s := state.JobStatus(raw)
		if !isKnownStatus(s) {
			writeError(w, http.StatusBadRequest, "unknown status: "+raw)
			return
		}
		status = &s
	}
	page, err := h.jobs.List(r.Context(), status, getPageNumber(r), getPageSize(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func isKnownStatus(s state.JobStatus) bool {
	for _, known := range state.AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (h *HttpRouteHandler) handleAdminGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Find(r.Context(), "", chi.URLParam(r, "jobId"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *HttpRouteHandler) handleRetryHistory(w http.ResponseWriter, r *http.Request) {
	audits, err := h.jobs.RetryHistory(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, audits)
}

func (h *HttpRouteHandler) handleUnlock(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	unlocked, err := h.jobs.ForceUnlock(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.logger.WarnContext(r.Context(), "lock force-released by operator", "job_id", jobID, "unlocked", unlocked)
	writeJSON(w, http.StatusOK, map[string]any{"jobId": jobID, "unlocked": unlocked})
}

func (h *HttpRouteHandler) handleSchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

func (h *HttpRouteHandler) handleSchedulerAction(w http.ResponseWriter, r *http.Request) {
	task := chi.URLParam(r, "task")
	action := chi.URLParam(r, "action")

	var err error
	switch action {
	case "pause":
		err = h.scheduler.Pause(task)
	case "resume":
		err = h.scheduler.Resume(task)
	case "run":
		err = h.scheduler.RunNow(task)
	default:
		writeError(w, http.StatusNotFound, "unknown action: "+action)
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "scheduler action", "task", task, "action", action)
	writeJSON(w, http.StatusOK, map[string]string{"task": task, "action": action})
}
