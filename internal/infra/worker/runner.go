package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agent-dispatch/internal/domain"
	"agent-dispatch/internal/domain/model"
	"agent-dispatch/internal/domain/ports/adapter"
	"agent-dispatch/internal/domain/ports/queue"
	"agent-dispatch/internal/domain/ports/repository"
	"agent-dispatch/internal/infra/logging"
	"agent-dispatch/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Options are the runner's timing and chunking knobs.
type Options struct {
	PopTimeout        time.Duration
	HeartbeatInterval time.Duration
	SoftTimeout       time.Duration // warn-only; never cancels the call
	ChunkChars        int
}

// Runner executes jobs one at a time end-to-end: pop, run the agent call
// concurrently with a heartbeat task, chunk and republish the result,
// write terminal status. A failed job never affects the next one.
type Runner struct {
	store   queue.Store
	invoker adapter.AgentInvoker
	archive repository.JobArchive // nil disables archiving
	opts    Options
	log     *zerolog.Logger
}

func NewRunner(store queue.Store, invoker adapter.AgentInvoker, archive repository.JobArchive, opts Options, logger *zerolog.Logger) *Runner {
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = 2 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	if opts.ChunkChars < 1 {
		opts.ChunkChars = 400
	}
	l := logger.With().Str("component", "Runner").Logger()
	return &Runner{store: store, invoker: invoker, archive: archive, opts: opts, log: &l}
}

// Run is the dequeue loop. Only store connectivity loss propagates;
// everything that goes wrong inside one job stays inside that job.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info().Msg("worker started")
	for {
		job, err := r.store.Pop(ctx, r.opts.PopTimeout)
		if errors.Is(err, domain.ErrPopTimeout) {
			metrics.IncPopTimeout()
			if ctx.Err() != nil {
				r.log.Info().Msg("worker stopping")
				return ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				r.log.Info().Msg("worker stopping")
				return ctx.Err()
			}
			return fmt.Errorf("worker pop: %w", err)
		}
		r.processOne(ctx, job)
	}
}

// processOne drives exactly one job to a terminal state.
func (r *Runner) processOne(ctx context.Context, job *model.Job) {
	ctx = logging.WithJobID(ctx, job.ID)
	log := logging.With(ctx, r.log).With().Str("model", job.Model).Logger()
	defer logging.TraceDuration(&log, "Runner.processOne")()
	log.Info().Msg("processing job")
	start := time.Now()

	// A job can be interrupted while still waiting on the list. Its
	// terminal status is absorbing, so the popped copy is stale work.
	if st, err := r.store.GetStatus(ctx, job.ID); err == nil && st.Status.Terminal() {
		log.Warn().Str("status", string(st.Status)).Msg("job already terminal, discarding queued copy")
		return
	}

	if err := r.store.MarkStatus(ctx, job.ID, model.JobRunning, queue.StatusExtra{}); err != nil {
		log.Error().Err(err).Msg("mark running failed")
	}
	r.publish(ctx, &log, model.QueueEvent{JobID: job.ID, Type: model.EventStatus, Status: model.JobRunning})
	if err := r.store.RegisterActive(ctx, job.ID); err != nil {
		log.Error().Err(err).Msg("register active failed")
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer func() {
		// Deterministic cleanup whatever happened above: stop the call
		// task and restore the registry invariant. Uses a fresh context
		// so shutdown cannot strand the registry entry.
		cancel()
		cctx, cdone := context.WithTimeout(context.Background(), 5*time.Second)
		defer cdone()
		if err := r.store.ClearActive(cctx, job.ID); err != nil {
			log.Error().Err(err).Msg("clear active failed")
		}
	}()

	res, err := r.invokeWithHeartbeat(callCtx, ctx, job, &log)
	latency := time.Since(start)

	var tin, tout int
	if res != nil && res.Usage != nil {
		tin, tout = res.Usage.PromptTokens, res.Usage.CompletionTokens
	}
	metrics.ObserveAgentCall(r.invoker.Name(), job.Model, tin, tout, int(latency.Milliseconds()), err == nil)

	// Terminal writes run on a detached context so a shutdown signal
	// cannot leave a finished job looking non-terminal.
	finCtx, finCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer finCancel()

	// Terminal states are exclusive: the watchdog or an operator
	// interrupt may have finished this job while the call ran, and that
	// outcome stands.
	if st, serr := r.store.GetStatus(finCtx, job.ID); serr == nil && st.Status.Terminal() {
		log.Warn().Str("status", string(st.Status)).Msg("job already terminal, dropping result")
		return
	}

	if err != nil {
		r.finishFailed(finCtx, job, classifyError(err), &log)
		log.Error().Err(err).Dur("duration_ms", latency).Msg("job failed")
		return
	}
	r.finishCompleted(finCtx, job, res, &log)
	log.Info().Dur("duration_ms", latency).Msg("job completed")
}

// invokeWithHeartbeat runs the agent call concurrently with a periodic
// heartbeat, joining through repeated bounded waits so a slow call never
// starves the liveness signal.
func (r *Runner) invokeWithHeartbeat(callCtx, ctx context.Context, job *model.Job, log *zerolog.Logger) (*adapter.Result, error) {
	type outcome struct {
		res *adapter.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.invoker.Invoke(callCtx, adapter.Invocation{
			Model:          job.Model,
			ConversationID: job.ConversationID,
			UserID:         job.UserID,
			UserRole:       job.UserRole,
			Text:           job.Text,
			Attachments:    job.Attachments,
		})
		done <- outcome{res: res, err: err}
	}()

	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()
	started := time.Now()
	warned := false

	for {
		select {
		case out := <-done:
			return out.res, out.err
		case <-ticker.C:
			r.heartbeat(ctx, job.ID, log)
			if !warned && r.opts.SoftTimeout > 0 && time.Since(started) > r.opts.SoftTimeout {
				// Slow legitimate calls must not be punished; warn only.
				log.Warn().Dur("elapsed", time.Since(started)).Msg("agent call exceeding soft timeout")
				warned = true
			}
		}
	}
}

func (r *Runner) heartbeat(ctx context.Context, jobID string, log *zerolog.Logger) {
	if err := r.store.Heartbeat(ctx, jobID); err != nil {
		log.Warn().Err(err).Msg("heartbeat failed")
		return
	}
	metrics.IncHeartbeat()
	r.publish(ctx, log, model.QueueEvent{JobID: jobID, Type: model.EventHeartbeat})
}

func (r *Runner) finishCompleted(ctx context.Context, job *model.Job, res *adapter.Result, log *zerolog.Logger) {
	var content string
	var result model.JobResult
	if res != nil {
		content = res.Content
		result = model.JobResult{Content: res.Content, Metadata: res.Metadata, Usage: res.Usage}
	}

	if content != "" {
		if err := r.store.MarkStatus(ctx, job.ID, model.JobStreaming, queue.StatusExtra{}); err != nil {
			log.Error().Err(err).Msg("mark streaming failed")
		}
		r.publish(ctx, log, model.QueueEvent{JobID: job.ID, Type: model.EventStatus, Status: model.JobStreaming})

		chunks := splitChunks(content, r.opts.ChunkChars)
		for _, c := range chunks {
			r.publish(ctx, log, model.QueueEvent{
				JobID:   job.ID,
				Type:    model.EventChunk,
				Status:  model.JobStreaming,
				Content: c,
			})
			// Chunk publishing counts as liveness.
			if err := r.store.Heartbeat(ctx, job.ID); err != nil {
				log.Warn().Err(err).Msg("heartbeat during streaming failed")
			}
		}
		metrics.AddJobChunks(len(chunks))
	}

	if err := r.store.MarkStatus(ctx, job.ID, model.JobCompleted, queue.StatusExtra{Result: &result}); err != nil {
		log.Error().Err(err).Msg("mark completed failed")
	}
	// The terminal event carries the full payload so a pure pub/sub
	// observer never needs to poll the status hash.
	r.publish(ctx, log, model.QueueEvent{
		JobID:    job.ID,
		Type:     model.EventCompleted,
		Status:   model.JobCompleted,
		Content:  result.Content,
		Metadata: result.Metadata,
		Usage:    result.Usage,
	})
	metrics.IncJobProcessed(string(model.JobCompleted))
	r.archiveTerminal(job.ID, log)
}

func (r *Runner) finishFailed(ctx context.Context, job *model.Job, errText string, log *zerolog.Logger) {
	if err := r.store.MarkStatus(ctx, job.ID, model.JobFailed, queue.StatusExtra{Error: errText}); err != nil {
		log.Error().Err(err).Msg("mark failed failed")
	}
	r.publish(ctx, log, model.QueueEvent{
		JobID:  job.ID,
		Type:   model.EventFailed,
		Status: model.JobFailed,
		Error:  errText,
	})
	metrics.IncJobProcessed(string(model.JobFailed))
	r.archiveTerminal(job.ID, log)
}

func (r *Runner) archiveTerminal(jobID string, log *zerolog.Logger) {
	if r.archive == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := r.store.GetStatus(actx, jobID)
	if err != nil {
		log.Warn().Err(err).Msg("archive snapshot read failed")
		return
	}
	if err := r.archive.Save(actx, st); err != nil {
		log.Warn().Err(err).Msg("archive write failed")
	}
}

func (r *Runner) publish(ctx context.Context, log *zerolog.Logger, ev model.QueueEvent) {
	if err := r.store.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event", string(ev.Type)).Msg("publish failed")
	}
}

// classifyError renders an error as "<TypeName>: <message>" for the
// status record, matching the shape operators see in the failed event.
func classifyError(err error) string {
	t := fmt.Sprintf("%T", err)
	t = strings.TrimLeft(t, "*")
	return t + ": " + err.Error()
}

// splitChunks slices s into fixed-size character chunks. Slicing is by
// rune so multi-byte characters are never split; there is no semantic
// boundary awareness.
func splitChunks(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
