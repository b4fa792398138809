package types

// RenderResult is what the renderer hands back for a successful capture.
type RenderResult struct {
	ResultReference  string
	ProcessingTimeMs int64
}

// SubmitResult is returned by the ingress path once the job is queued.
type SubmitResult struct {
	JobID         string `json:"jobId"`
	QueuePosition int64  `json:"queuePosition"`
}
