package store

import (
	"fmt"

	"github.com/RezaEskandarii/shotfire/custom_errors"
	"github.com/RezaEskandarii/shotfire/internal/state"
	"github.com/RezaEskandarii/shotfire/types"
)

// CheckInvariants rejects a job record that must never reach storage.
func CheckInvariants(job *types.Job) error {
	if job.RetryCount < 0 || job.MaxRetries < 0 {
		return fmt.Errorf("%w: negative retry counters", custom_errors.ErrInvariant)
	}
	if job.RetryCount > job.MaxRetries {
		return fmt.Errorf("%w: retryCount %d exceeds maxRetries %d", custom_errors.ErrInvariant, job.RetryCount, job.MaxRetries)
	}
	if job.NextRetryAt != nil && job.Status != state.StatusQueued {
		return fmt.Errorf("%w: nextRetryAt set on %s job", custom_errors.ErrInvariant, job.Status)
	}
	if job.Status == state.StatusFailed && job.ErrorMessage == nil {
		return fmt.Errorf("%w: FAILED job without error message", custom_errors.ErrInvariant)
	}
	return nil
}
