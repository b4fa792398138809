package recovery

import (
	"context"
	"log/slog"
	"time"
)

// Task is one unit of periodic recovery work. Run processes a single batch and
// returns; the RetryScheduler decides when it runs again.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

const (
	TaskStuckJobs       = "stuck-jobs"
	TaskFailedRetries   = "failed-retries"
	TaskDelayedPromoter = "delayed-promoter"
)

type clock func() time.Time

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
