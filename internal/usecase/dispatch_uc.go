package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"agent-dispatch/internal/domain"
	"agent-dispatch/internal/domain/model"
	"agent-dispatch/internal/domain/ports/queue"
	"agent-dispatch/internal/infra/logging"
	"agent-dispatch/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// EnqueueRequest is the producer-facing job description; the use case
// assigns the id and applies the default model.
type EnqueueRequest struct {
	Model          string
	ConversationID string
	UserID         string
	UserRole       string
	Text           string
	RawUserText    string
	Attachments    []model.Attachment
	Metadata       map[string]string
	Stream         bool
}

// DispatchUseCase is the producer API: enqueue a job, read its snapshot,
// follow its event stream, or block until it terminates.
type DispatchUseCase interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*model.JobStatus, error)
	Status(ctx context.Context, jobID string) (*model.JobStatus, error)

	// Events yields a finite event sequence: optionally a synthetic
	// status event from the current snapshot, then published events up to
	// and including the first terminal one. The channel closes when the
	// sequence ends or ctx is done.
	Events(ctx context.Context, jobID string, includeSnapshot bool) (<-chan model.QueueEvent, error)

	// Wait blocks until a terminal event or the timeout; on timeout it
	// synthesizes a failed event so callers never block indefinitely.
	Wait(ctx context.Context, jobID string, timeout time.Duration) (model.QueueEvent, error)

	// Interrupt force-terminates a job from the operator side. Already
	// terminal jobs return domain.ErrAlreadyTerminal.
	Interrupt(ctx context.Context, jobID string) error
}

var _ DispatchUseCase = (*dispatchUC)(nil)

type dispatchUC struct {
	store        queue.Store
	defaultModel string
	log          *zerolog.Logger
}

func NewDispatchUseCase(store queue.Store, defaultModel string, logger *zerolog.Logger) *dispatchUC {
	l := logger.With().Str("component", "DispatchUC").Logger()
	return &dispatchUC{store: store, defaultModel: defaultModel, log: &l}
}

func (uc *dispatchUC) Enqueue(ctx context.Context, req EnqueueRequest) (*model.JobStatus, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, domain.ErrInvalidArgument
	}
	mdl := req.Model
	if mdl == "" {
		mdl = uc.defaultModel
	}
	conv := req.ConversationID
	if conv == "" {
		// Ad-hoc jobs still get a conversation to hang follow-ups on.
		conv = uuid.NewString()
	}
	job := &model.Job{
		ID:             ulid.Make().String(),
		Model:          mdl,
		ConversationID: conv,
		UserID:         req.UserID,
		UserRole:       req.UserRole,
		Text:           req.Text,
		RawUserText:    req.RawUserText,
		Attachments:    req.Attachments,
		Metadata:       req.Metadata,
		Stream:         req.Stream,
	}
	st, err := uc.store.Enqueue(ctx, job)
	if err != nil {
		return nil, err
	}
	metrics.IncJobEnqueued()
	logging.With(ctx, uc.log).Info().Str("job_id", job.ID).Str("model", job.Model).Msg("job enqueued")
	return st, nil
}

func (uc *dispatchUC) Status(ctx context.Context, jobID string) (*model.JobStatus, error) {
	return uc.store.GetStatus(ctx, jobID)
}

func (uc *dispatchUC) Events(ctx context.Context, jobID string, includeSnapshot bool) (<-chan model.QueueEvent, error) {
	// Subscribe before the snapshot read: an event published between the
	// two is then delivered rather than lost.
	sub, err := uc.store.Subscribe(ctx, jobID)
	if err != nil {
		return nil, err
	}

	out := make(chan model.QueueEvent)
	go func() {
		defer close(out)
		defer sub.Close()

		if includeSnapshot {
			st, err := uc.store.GetStatus(ctx, jobID)
			if err != nil && !isNotFound(err) {
				uc.log.Warn().Err(err).Str("job_id", jobID).Msg("snapshot read failed")
			}
			if st != nil {
				ev := snapshotEvent(st)
				if !send(ctx, out, ev) || ev.Type.Terminal() {
					return
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if !send(ctx, out, ev) {
					return
				}
				if ev.Type.Terminal() {
					return
				}
			}
		}
	}()
	return out, nil
}

func (uc *dispatchUC) Wait(ctx context.Context, jobID string, timeout time.Duration) (model.QueueEvent, error) {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	evs, err := uc.Events(wctx, jobID, true)
	if err != nil {
		return model.QueueEvent{}, err
	}
	for ev := range evs {
		if ev.Type.Terminal() {
			return ev, nil
		}
	}
	// Nothing terminal arrived before the deadline.
	return model.QueueEvent{
		JobID:  jobID,
		Type:   model.EventFailed,
		Status: model.JobFailed,
		Error:  "timed out waiting for completion",
	}, nil
}

func (uc *dispatchUC) Interrupt(ctx context.Context, jobID string) error {
	st, err := uc.store.GetStatus(ctx, jobID)
	if err != nil {
		return err
	}
	if st.Status.Terminal() {
		return domain.ErrAlreadyTerminal
	}
	if err := uc.store.MarkStatus(ctx, jobID, model.JobInterrupted, queue.StatusExtra{Error: "interrupted by operator"}); err != nil {
		return err
	}
	ev := model.QueueEvent{
		JobID:  jobID,
		Type:   model.EventInterrupt,
		Status: model.JobInterrupted,
		Error:  "interrupted by operator",
	}
	if err := uc.store.Publish(ctx, ev); err != nil {
		uc.log.Warn().Err(err).Str("job_id", jobID).Msg("publish interrupt event failed")
	}
	if err := uc.store.ClearActive(ctx, jobID); err != nil {
		uc.log.Warn().Err(err).Str("job_id", jobID).Msg("clear active failed")
	}
	uc.log.Info().Str("job_id", jobID).Msg("job interrupted")
	return nil
}

// snapshotEvent turns the current status record into the synthetic event
// a late subscriber catches up with. Terminal snapshots map to their
// terminal event type so the sequence still ends correctly.
func snapshotEvent(st *model.JobStatus) model.QueueEvent {
	ev := model.QueueEvent{JobID: st.JobID, Type: model.EventStatus, Status: st.Status}
	switch st.Status {
	case model.JobCompleted:
		ev.Type = model.EventCompleted
		if st.Result != nil {
			ev.Content = st.Result.Content
			ev.Metadata = st.Result.Metadata
			ev.Usage = st.Result.Usage
		}
	case model.JobFailed:
		ev.Type = model.EventFailed
		ev.Error = st.Error
	case model.JobInterrupted:
		ev.Type = model.EventInterrupt
		ev.Error = st.Error
	}
	return ev
}

func send(ctx context.Context, out chan<- model.QueueEvent, ev model.QueueEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- ev:
		return true
	}
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
