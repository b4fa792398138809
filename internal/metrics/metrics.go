// Package metrics holds the Prometheus collectors for job execution and retries.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shotfire"

type Metrics struct {
	registry *prometheus.Registry

	jobsCompleted  prometheus.Counter
	jobsFailed     *prometheus.CounterVec
	retriesSched   *prometheus.CounterVec
	stuckReclaimed prometheus.Counter
	locksReleased  prometheus.Counter
	promotions     prometheus.Counter
	manualOutcomes *prometheus.CounterVec
	taskRuns       *prometheus.CounterVec
	renderDuration prometheus.Histogram
	queueDepth     *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_completed_total",
			Help: "Render jobs that reached COMPLETED.",
		}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "job_failures_total",
			Help: "Failed render attempts by error category.",
		}, []string{"category"}),
		retriesSched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "retries_scheduled_total",
			Help: "Retries put back on a queue, by retry type.",
		}, []string{"type"}),
		stuckReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stuck_jobs_reclaimed_total",
			Help: "PROCESSING jobs reclaimed after the stuck threshold.",
		}),
		locksReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stale_locks_released_total",
			Help: "Locks released on non-processing jobs whose owner went away.",
		}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "delayed_promotions_total",
			Help: "Delayed queue entries moved to the main queue.",
		}),
		manualOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "manual_retry_outcomes_total",
			Help: "Manual retry requests by outcome.",
		}, []string{"outcome"}),
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "scheduler_task_runs_total",
			Help: "Periodic task runs by task and result.",
		}, []string{"task", "result"}),
		renderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "render_duration_seconds",
			Help:    "Wall time of render attempts.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth",
			Help: "Entries waiting in each queue.",
		}, []string{"queue"}),
	}
	m.registry.MustRegister(
		m.jobsCompleted, m.jobsFailed, m.retriesSched, m.stuckReclaimed, m.locksReleased,
		m.promotions, m.manualOutcomes, m.taskRuns, m.renderDuration, m.queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves this registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) JobCompleted(seconds float64) {
	if m == nil {
		return
	}
	m.jobsCompleted.Inc()
	m.renderDuration.Observe(seconds)
}

func (m *Metrics) JobFailed(category string, seconds float64) {
	if m == nil {
		return
	}
	m.jobsFailed.WithLabelValues(category).Inc()
	if seconds > 0 {
		m.renderDuration.Observe(seconds)
	}
}

func (m *Metrics) RetryScheduled(retryType string) {
	if m == nil {
		return
	}
	m.retriesSched.WithLabelValues(retryType).Inc()
}

func (m *Metrics) StuckJobReclaimed() {
	if m == nil {
		return
	}
	m.stuckReclaimed.Inc()
}

func (m *Metrics) StaleLocksReleased(n int) {
	if m == nil {
		return
	}
	m.locksReleased.Add(float64(n))
}

func (m *Metrics) Promoted(n int) {
	if m == nil {
		return
	}
	m.promotions.Add(float64(n))
}

func (m *Metrics) ManualRetry(outcome string) {
	if m == nil {
		return
	}
	m.manualOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TaskRun(task string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.taskRuns.WithLabelValues(task, result).Inc()
}

func (m *Metrics) SetQueueDepth(queue string, depth int64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}
