package model

type EventType string

const (
	EventStatus    EventType = "status"
	EventChunk     EventType = "chunk"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventHeartbeat EventType = "heartbeat"
	EventInterrupt EventType = "interrupt"
)

// Terminal reports whether this event type ends a job's event sequence.
func (t EventType) Terminal() bool {
	return t == EventCompleted || t == EventFailed || t == EventInterrupt
}

// QueueEvent is one notification on a job's pub/sub channel. Events are
// ephemeral: a subscriber that attaches late misses them and must fall
// back to the JobStatus snapshot.
type QueueEvent struct {
	JobID    string            `json:"job_id"`
	Type     EventType         `json:"type"`
	Status   JobStatusValue    `json:"status,omitempty"`
	Content  string            `json:"content,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Usage    *Usage            `json:"usage,omitempty"`
	Error    string            `json:"error,omitempty"`
}
