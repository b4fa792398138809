package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/RezaEskandarii/shotfire/custom_errors"
	"github.com/RezaEskandarii/shotfire/internal/metrics"
)

// TaskStatus is the admin view of one scheduled task.
type TaskStatus struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Paused    bool          `json:"paused"`
	Running   bool          `json:"running"`
	Runs      int64         `json:"runs"`
	LastRunAt *time.Time    `json:"lastRunAt,omitempty"`
	LastError string        `json:"lastError,omitempty"`
	NextRunAt *time.Time    `json:"nextRunAt,omitempty"`
}

type scheduledTask struct {
	task     Task
	interval time.Duration
	entryID  cronlib.EntryID

	paused  atomic.Bool
	running atomic.Bool
	// exclusive keeps two runs of the same task from overlapping.
	exclusive sync.Mutex

	mu        sync.Mutex
	runs      int64
	lastRunAt *time.Time
	lastError string
}

// RetryScheduler runs the recovery tasks on independent fixed intervals.
// A slow task never delays another one, and a tick that finds the previous
// run of its task still going is skipped.
type RetryScheduler struct {
	cron    *cronlib.Cron
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	tasks    map[string]*scheduledTask
	started  bool
	stopped  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	inFlight sync.WaitGroup
}

type SchedulerOption func(*RetryScheduler)

func WithSchedulerMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *RetryScheduler) { s.metrics = m }
}

func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *RetryScheduler) { s.logger = l }
}

func NewRetryScheduler(opts ...SchedulerOption) *RetryScheduler {
	s := &RetryScheduler{
		logger: slog.Default(),
		tasks:  make(map[string]*scheduledTask),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "retry-scheduler")
	cl := cronLogger{logger: s.logger}
	s.cron = cronlib.New(
		cronlib.WithLogger(cl),
		cronlib.WithChain(cronlib.Recover(cl)),
	)
	return s
}

// Register adds task to run every interval. Intervals are whole seconds with a
// one second minimum. Registering after Start is allowed.
func (s *RetryScheduler) Register(task Task, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive, got %s", task.Name(), interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.Name()]; exists {
		return fmt.Errorf("task %s already registered", task.Name())
	}
	st := &scheduledTask{task: task, interval: interval}
	st.entryID = s.cron.Schedule(cronlib.Every(interval), cronlib.FuncJob(func() {
		s.run(st, false)
	}))
	s.tasks[task.Name()] = st
	return nil
}

// Start begins ticking. Task runs receive a context derived from ctx.
func (s *RetryScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("%w: already started", custom_errors.ErrSchedulerState)
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.cron.Start()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	s.logger.Info("retry scheduler started", "tasks", names)
	return nil
}

// Stop prevents new ticks and waits for in-flight runs. When ctx expires first,
// in-flight runs are cancelled and ctx's error is returned.
func (s *RetryScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("retry scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("retry scheduler stop timed out, in-flight runs cancelled")
		return ctx.Err()
	}
}

func (s *RetryScheduler) Pause(name string) error {
	st, err := s.lookup(name)
	if err != nil {
		return err
	}
	if !st.paused.Swap(true) {
		s.logger.Info("task paused", "task", name)
	}
	return nil
}

func (s *RetryScheduler) Resume(name string) error {
	st, err := s.lookup(name)
	if err != nil {
		return err
	}
	if st.paused.Swap(false) {
		s.logger.Info("task resumed", "task", name)
	}
	return nil
}

// RunNow executes the task once in the caller's goroutine, even if paused.
// It fails with ErrTaskRunning when a run is already in progress.
func (s *RetryScheduler) RunNow(name string) error {
	st, err := s.lookup(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("%w: not running", custom_errors.ErrSchedulerState)
	}
	s.mu.Unlock()

	ran, err := s.run(st, true)
	if !ran {
		return fmt.Errorf("%w: %s", custom_errors.ErrTaskRunning, name)
	}
	return err
}

func (s *RetryScheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for name, st := range s.tasks {
		st.mu.Lock()
		ts := TaskStatus{
			Name:      name,
			Interval:  st.interval,
			Paused:    st.paused.Load(),
			Running:   st.running.Load(),
			Runs:      st.runs,
			LastRunAt: st.lastRunAt,
			LastError: st.lastError,
		}
		st.mu.Unlock()
		if s.started && !s.stopped {
			if next := s.cron.Entry(st.entryID).Next; !next.IsZero() {
				ts.NextRunAt = &next
			}
		}
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *RetryScheduler) lookup(name string) (*scheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", custom_errors.ErrUnknownTask, name)
	}
	return st, nil
}

// run reports whether the task actually ran.
func (s *RetryScheduler) run(st *scheduledTask, forced bool) (bool, error) {
	if !forced && st.paused.Load() {
		return false, nil
	}
	if !st.exclusive.TryLock() {
		if !forced {
			s.logger.Debug("previous run still in progress, tick skipped", "task", st.task.Name())
		}
		return false, nil
	}
	defer st.exclusive.Unlock()

	s.mu.Lock()
	if s.runCtx == nil || s.stopped {
		s.mu.Unlock()
		return false, nil
	}
	ctx := s.runCtx
	s.inFlight.Add(1)
	s.mu.Unlock()
	defer s.inFlight.Done()

	st.running.Store(true)
	defer st.running.Store(false)

	started := time.Now()
	err := st.task.Run(ctx)
	s.metrics.TaskRun(st.task.Name(), err)

	st.mu.Lock()
	st.runs++
	st.lastRunAt = &started
	st.lastError = ""
	if err != nil {
		st.lastError = err.Error()
	}
	st.mu.Unlock()

	if err != nil {
		s.logger.Error("task run failed", "task", st.task.Name(), "forced", forced, "error", err)
	} else {
		s.logger.Debug("task run finished", "task", st.task.Name(), "forced", forced, "took", time.Since(started))
	}
	return true, err
}

// cronLogger routes robfig/cron's own logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
