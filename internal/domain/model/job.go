package model

import "time"

type JobStatusValue string

const (
	JobQueued      JobStatusValue = "queued"
	JobRunning     JobStatusValue = "running"
	JobStreaming   JobStatusValue = "streaming"
	JobCompleted   JobStatusValue = "completed"
	JobFailed      JobStatusValue = "failed"
	JobInterrupted JobStatusValue = "interrupted"
)

// Terminal reports whether a job in this state absorbs all further
// transitions.
func (s JobStatusValue) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobInterrupted
}

// Attachment describes one file that accompanied a job. Only metadata
// travels on the queue; attachment parsing happens upstream.
type Attachment struct {
	Name      string `json:"name,omitempty"`
	MIMEType  string `json:"mime_type,omitempty"`
	URL       string `json:"url,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Job is one unit of dispatched work. It is immutable once enqueued and
// consumed exactly once by a worker.
type Job struct {
	ID             string            `json:"job_id"`
	Model          string            `json:"model"`
	ConversationID string            `json:"conversation_id"`
	UserID         string            `json:"user_id"`
	UserRole       string            `json:"user_role"`
	Text           string            `json:"text"`
	RawUserText    string            `json:"raw_user_text,omitempty"`
	Attachments    []Attachment      `json:"attachments,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Stream         bool              `json:"stream"`
}

// Usage is token accounting as reported by the agent provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// JobResult is the terminal payload of a completed job.
type JobResult struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Usage    *Usage            `json:"usage,omitempty"`
}

// JobStatus is the mutable, TTL-bound status record. The status hash in
// Redis is the single source of truth for a job; pub/sub events are
// best-effort on top of it.
type JobStatus struct {
	JobID          string         `json:"job_id"`
	Status         JobStatusValue `json:"status"`
	Model          string         `json:"model,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	LastHeartbeat  time.Time      `json:"last_heartbeat,omitempty"`
	Result         *JobResult     `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
}
