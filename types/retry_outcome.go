package types

import "net/http"

type RetryOutcomeStatus int

const (
	RetryAccepted RetryOutcomeStatus = iota + 1
	RetryConflict
	RetryQuotaExceeded
	RetryNotRetryable
	RetryNotFound
)

func (s RetryOutcomeStatus) String() string {
	switch s {
	case RetryAccepted:
		return "accepted"
	case RetryConflict:
		return "conflict"
	case RetryQuotaExceeded:
		return "quota_exceeded"
	case RetryNotRetryable:
		return "not_retryable"
	case RetryNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// HTTPStatus maps an outcome to the status code of the retry endpoint.
func (s RetryOutcomeStatus) HTTPStatus() int {
	switch s {
	case RetryAccepted:
		return http.StatusOK
	case RetryConflict:
		return http.StatusConflict
	case RetryQuotaExceeded:
		return http.StatusPaymentRequired
	case RetryNotRetryable:
		return http.StatusBadRequest
	case RetryNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// RetryOutcome is the typed result of a manual retry request.
type RetryOutcome struct {
	Status        RetryOutcomeStatus `json:"-"`
	JobID         string             `json:"jobId"`
	Message       string             `json:"message"`
	QueuePosition int64              `json:"queuePosition"`
}

func (o RetryOutcome) Accepted() bool {
	return o.Status == RetryAccepted
}
