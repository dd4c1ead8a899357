package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"agent-dispatch/internal/domain/model"
	"agent-dispatch/internal/domain/ports/repository"
)

// Ensure compile-time conformance
var _ repository.JobArchive = (*JobArchiveRepo)(nil)

// JobArchiveRepo keeps terminal job records beyond the Redis TTL. One row
// per job; a repeated terminal write for the same id overwrites the row,
// which keeps archiving idempotent between worker and watchdog.
type JobArchiveRepo struct {
	pool *pgxpool.Pool
}

func NewJobArchiveRepo(pool *pgxpool.Pool) *JobArchiveRepo {
	return &JobArchiveRepo{pool: pool}
}

// EnsureSchema creates the archive table when it does not exist yet.
func (r *JobArchiveRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS dispatch_job_archive (
    job_id          TEXT PRIMARY KEY,
    status          TEXT NOT NULL,
    model           TEXT,
    conversation_id TEXT,
    user_id         TEXT,
    error           TEXT,
    result          JSONB,
    created_at      TIMESTAMPTZ,
    finished_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	if err != nil {
		return fmt.Errorf("ensure archive schema: %w", err)
	}
	return nil
}

func (r *JobArchiveRepo) Save(ctx context.Context, st *model.JobStatus) error {
	var result []byte
	if st.Result != nil {
		b, err := json.Marshal(st.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		result = b
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO dispatch_job_archive
    (job_id, status, model, conversation_id, user_id, error, result, created_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (job_id) DO UPDATE SET
    status = EXCLUDED.status,
    error = EXCLUDED.error,
    result = EXCLUDED.result,
    finished_at = EXCLUDED.finished_at`,
		st.JobID, string(st.Status), st.Model, st.ConversationID, st.UserID,
		st.Error, result, st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("archive job %s: %w", st.JobID, err)
	}
	return nil
}
