package custom_errors

import "errors"

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrInsufficientQuota = errors.New("insufficient quota")
	ErrURLRejected       = errors.New("url rejected by validator")
	ErrUnknownTask       = errors.New("unknown scheduler task")
	ErrInvariant         = errors.New("job invariant violated")
	ErrTaskRunning       = errors.New("scheduler task already running")
	ErrSchedulerState    = errors.New("scheduler is not in the required state")
	ErrOperatorNotFound  = errors.New("operator not found")
)
