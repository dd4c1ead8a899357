package repository

import (
	"context"

	"agent-dispatch/internal/domain/model"
)

// JobArchive persists terminal job records beyond the Redis TTL so
// operators can inspect them later. Writes are best-effort: an archive
// failure is logged and never fails the job.
type JobArchive interface {
	Save(ctx context.Context, st *model.JobStatus) error
}
