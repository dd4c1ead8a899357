package worker

import (
	"context"
	"errors"
	"time"

	"agent-dispatch/internal/domain"
	"agent-dispatch/internal/domain/model"
	"agent-dispatch/internal/domain/ports/queue"
	"agent-dispatch/internal/domain/ports/repository"
	"agent-dispatch/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// heartbeatTimeoutReason is the fixed operator-visible reason written to
// jobs the watchdog fails.
const heartbeatTimeoutReason = "heartbeat timeout"

// Watchdog bounds how long a crashed or hung worker can leave a job
// appearing to run. It periodically scans the active registry and fails
// entries whose heartbeat has gone stale.
type Watchdog struct {
	store      queue.Store
	archive    repository.JobArchive // nil disables archiving
	interval   time.Duration
	staleAfter time.Duration
	log        *zerolog.Logger
}

func NewWatchdog(store queue.Store, archive repository.JobArchive, interval, staleAfter time.Duration, logger *zerolog.Logger) *Watchdog {
	wdLog := logger.With().Str("component", "Watchdog").Logger()
	return &Watchdog{
		store:      store,
		archive:    archive,
		interval:   interval,
		staleAfter: staleAfter,
		log:        &wdLog,
	}
}

func (w *Watchdog) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("stale_after", w.staleAfter).Msg("starting watchdog")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping watchdog")
			return ctx.Err()
		case <-ticker.C:
			if n := w.Scan(ctx); n > 0 {
				w.log.Info().Int("count", n).Msg("stale jobs failed")
			}
		}
	}
}

// Scan performs one sweep and returns how many jobs were failed. It is
// idempotent: rescanning an already-reaped job is a no-op.
func (w *Watchdog) Scan(ctx context.Context) int {
	cutoff := time.Now().Add(-w.staleAfter)
	ids, err := w.store.StaleActive(ctx, cutoff)
	if err != nil {
		w.log.Error().Err(err).Msg("registry scan failed")
		return 0
	}

	reaped := 0
	for _, id := range ids {
		if w.reap(ctx, id) {
			reaped++
		}
	}
	return reaped
}

func (w *Watchdog) reap(ctx context.Context, jobID string) bool {
	// Re-check current status: the job may have terminated between the
	// scan and this write.
	st, err := w.store.GetStatus(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		// Status record already expired; just drop the registry entry.
		_ = w.store.ClearActive(ctx, jobID)
		return false
	}
	if err != nil {
		w.log.Error().Err(err).Str("job_id", jobID).Msg("status re-check failed")
		return false
	}
	if st.Status.Terminal() {
		_ = w.store.ClearActive(ctx, jobID)
		return false
	}

	if err := w.store.MarkStatus(ctx, jobID, model.JobFailed, queue.StatusExtra{Error: heartbeatTimeoutReason}); err != nil {
		w.log.Error().Err(err).Str("job_id", jobID).Msg("mark failed failed")
		return false
	}
	if err := w.store.Publish(ctx, model.QueueEvent{
		JobID:  jobID,
		Type:   model.EventFailed,
		Status: model.JobFailed,
		Error:  heartbeatTimeoutReason,
	}); err != nil {
		w.log.Warn().Err(err).Str("job_id", jobID).Msg("publish failed event failed")
	}
	if err := w.store.ClearActive(ctx, jobID); err != nil {
		w.log.Error().Err(err).Str("job_id", jobID).Msg("clear active failed")
	}
	metrics.IncWatchdogReap()
	w.log.Warn().Str("job_id", jobID).Time("last_heartbeat", st.LastHeartbeat).Msg("job failed for stale heartbeat")

	if w.archive != nil {
		if st2, err := w.store.GetStatus(ctx, jobID); err == nil {
			if err := w.archive.Save(ctx, st2); err != nil {
				w.log.Warn().Err(err).Str("job_id", jobID).Msg("archive write failed")
			}
		}
	}
	return true
}
