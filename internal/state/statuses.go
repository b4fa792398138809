package state

type JobStatus string

const (
	StatusQueued     JobStatus = "QUEUED"
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
)

func (s JobStatus) String() string {
	return string(s)
}

var AllStatuses = []JobStatus{
	StatusQueued,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

// RetryType records which actor initiated the current attempt.
type RetryType string

const (
	RetryAutomatic RetryType = "AUTOMATIC"
	RetryManual    RetryType = "MANUAL"
)

func (t RetryType) String() string {
	return string(t)
}

type Transition struct {
	From JobStatus
	To   JobStatus
}

// ValidTransitions lists every status move a job may make.
// FAILED -> QUEUED is additionally gated by CanRequeue.
var ValidTransitions = []Transition{
	{From: StatusQueued, To: StatusProcessing},
	{From: StatusProcessing, To: StatusCompleted},
	{From: StatusProcessing, To: StatusQueued},
	{From: StatusProcessing, To: StatusFailed},
	{From: StatusFailed, To: StatusQueued},
}

func IsValidTransition(from, to JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// CanRequeue reports whether the automatic path may move a FAILED job back to QUEUED.
func CanRequeue(isRetryable bool, retryCount, maxRetries int) bool {
	return isRetryable && retryCount < maxRetries
}

// IsTerminal reports whether a job in this status will never be picked up again
// by the automatic path.
func IsTerminal(status JobStatus, isRetryable bool, retryCount, maxRetries int) bool {
	switch status {
	case StatusCompleted:
		return true
	case StatusFailed:
		return !CanRequeue(isRetryable, retryCount, maxRetries)
	default:
		return false
	}
}
