package types

import (
	"time"

	"github.com/RezaEskandarii/shotfire/internal/state"
)

type OutputFormat string

const (
	FormatPNG  OutputFormat = "png"
	FormatJPEG OutputFormat = "jpeg"
	FormatPDF  OutputFormat = "pdf"
)

func (f OutputFormat) Valid() bool {
	switch f {
	case FormatPNG, FormatJPEG, FormatPDF:
		return true
	}
	return false
}

// WaitPolicy tells the renderer when a page counts as loaded.
type WaitPolicy struct {
	Until    string `json:"until,omitempty"` // load, domcontentloaded, networkidle
	Selector string `json:"selector,omitempty"`
	DelayMs  int    `json:"delay_ms,omitempty"`
}

// RenderRequest is the immutable description of a capture.
type RenderRequest struct {
	URL      string       `json:"url"`
	Width    int          `json:"width"`
	Height   int          `json:"height"`
	Format   OutputFormat `json:"format"`
	FullPage bool         `json:"full_page"`
	Wait     WaitPolicy   `json:"wait"`
}

type Job struct {
	ID      string          `json:"id"`
	OwnerID string          `json:"owner_id"`
	Request RenderRequest   `json:"request"`
	Status  state.JobStatus `json:"status"`

	RetryCount        int             `json:"retry_count"`
	MaxRetries        int             `json:"max_retries"`
	NextRetryAt       *time.Time      `json:"next_retry_at,omitempty"`
	LastFailureReason *string         `json:"last_failure_reason,omitempty"`
	IsRetryable       bool            `json:"is_retryable"`
	RetryType         state.RetryType `json:"retry_type"`

	LockedBy *string    `json:"locked_by,omitempty"`
	LockedAt *time.Time `json:"locked_at,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ResultReference  *string `json:"result_reference,omitempty"`
	ErrorMessage     *string `json:"error_message,omitempty"`
	ProcessingTimeMs *int64  `json:"processing_time_ms,omitempty"`
}

// NewJob builds a fresh QUEUED job. Id and timestamps are filled in by the store.
func NewJob(ownerID string, req RenderRequest, maxRetries int) *Job {
	return &Job{
		OwnerID:     ownerID,
		Request:     req,
		Status:      state.StatusQueued,
		MaxRetries:  maxRetries,
		IsRetryable: true,
		RetryType:   state.RetryAutomatic,
	}
}

func (j *Job) IsLocked() bool {
	return j.LockedBy != nil
}

func (j *Job) IsLockedBy(owner string) bool {
	return j.LockedBy != nil && *j.LockedBy == owner
}

// IsScheduled reports whether an automatic retry is waiting in the delayed queue.
func (j *Job) IsScheduled() bool {
	return j.Status == state.StatusQueued && j.NextRetryAt != nil
}

// IsStuck reports whether a PROCESSING job has been idle since before staleBefore.
func (j *Job) IsStuck(staleBefore time.Time) bool {
	return j.Status == state.StatusProcessing && j.UpdatedAt.Before(staleBefore)
}

func (j *Job) IsTerminal() bool {
	return state.IsTerminal(j.Status, j.IsRetryable, j.RetryCount, j.MaxRetries)
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.NextRetryAt = cloneTime(j.NextRetryAt)
	c.LockedAt = cloneTime(j.LockedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.LastFailureReason = cloneString(j.LastFailureReason)
	c.LockedBy = cloneString(j.LockedBy)
	c.ResultReference = cloneString(j.ResultReference)
	c.ErrorMessage = cloneString(j.ErrorMessage)
	if j.ProcessingTimeMs != nil {
		v := *j.ProcessingTimeMs
		c.ProcessingTimeMs = &v
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// RetryAudit is one row of the retry trail kept per job.
type RetryAudit struct {
	JobID          string          `json:"job_id"`
	Actor          string          `json:"actor"`
	RetryType      state.RetryType `json:"retry_type"`
	PreviousStatus state.JobStatus `json:"previous_status"`
	At             time.Time       `json:"at"`
}

// JobEvent is published when a job reaches an outcome worth telling the webhook pipeline about.
type JobEvent struct {
	Type            string          `json:"type"`
	JobID           string          `json:"job_id"`
	OwnerID         string          `json:"owner_id"`
	Status          state.JobStatus `json:"status"`
	RetryCount      int             `json:"retry_count"`
	ResultReference *string         `json:"result_reference,omitempty"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	At              time.Time       `json:"at"`
}

const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)
