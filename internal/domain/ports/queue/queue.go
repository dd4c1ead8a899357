package queue

import (
	"context"
	"time"

	"agent-dispatch/internal/domain/model"
)

// Subscription is a scoped attachment to one job's event channel. Close
// must always be called; it tears down the underlying pub/sub state.
type Subscription interface {
	// Events yields decoded events until Close or connection loss, at
	// which point the channel is closed.
	Events() <-chan model.QueueEvent
	Close() error
}

// StatusExtra carries the optional fields of a status write.
type StatusExtra struct {
	Result *model.JobResult
	Error  string
}

// Store is the queue primitive set: FIFO work list, TTL'd status hash,
// per-job pub/sub channel, and the active-job heartbeat registry.
//
// All status writes are field-level idempotent upserts (last-write-wins);
// correctness rests on Redis single-command atomicity, not on locks.
type Store interface {
	// Enqueue writes the initial status record (queued), appends the job
	// to the work list, and publishes a best-effort queued event.
	Enqueue(ctx context.Context, job *model.Job) (*model.JobStatus, error)

	// Pop blocks up to timeout for the next job. Returns
	// domain.ErrPopTimeout when nothing arrived, so callers can check a
	// shutdown flag without busy-looping.
	Pop(ctx context.Context, timeout time.Duration) (*model.Job, error)

	// MarkStatus upserts status fields and refreshes the record TTL.
	MarkStatus(ctx context.Context, jobID string, status model.JobStatusValue, extra StatusExtra) error

	// GetStatus reads the current snapshot. domain.ErrNotFound after TTL
	// expiry or for unknown ids.
	GetStatus(ctx context.Context, jobID string) (*model.JobStatus, error)

	// Publish is fire-and-forget: a publish failure never fails the job.
	Publish(ctx context.Context, ev model.QueueEvent) error

	Subscribe(ctx context.Context, jobID string) (Subscription, error)

	// Active-job registry. Membership means the job is non-terminal.
	RegisterActive(ctx context.Context, jobID string) error
	Heartbeat(ctx context.Context, jobID string) error
	ClearActive(ctx context.Context, jobID string) error

	// StaleActive returns registry members whose last heartbeat is older
	// than the cutoff.
	StaleActive(ctx context.Context, olderThan time.Time) ([]string, error)
}
