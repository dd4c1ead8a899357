package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"agent-dispatch/internal/domain"
	"agent-dispatch/internal/domain/model"
	"agent-dispatch/internal/domain/ports/queue"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// subscribeBuffer bounds the decode channel; pub/sub has no replay, so a
// slow consumer only ever loses events it would have lost anyway.
const subscribeBuffer = 16

var _ queue.Store = (*QueueStore)(nil)

// QueueStore implements the queue primitives on Redis: a FIFO work list,
// per-job status hashes with TTL, per-job pub/sub channels, and a sorted
// set keyed by last heartbeat time as the active-job registry.
type QueueStore struct {
	client    RedisClient
	namespace string
	ttl       time.Duration
	log       *zerolog.Logger
}

func NewQueueStore(client RedisClient, namespace string, ttl time.Duration, logger *zerolog.Logger) *QueueStore {
	if namespace == "" {
		namespace = "dispatch"
	}
	l := logger.With().Str("component", "QueueStore").Logger()
	return &QueueStore{client: client, namespace: namespace, ttl: ttl, log: &l}
}

func (s *QueueStore) queueKey() string            { return s.namespace + ":queue" }
func (s *QueueStore) jobKey(jobID string) string  { return s.namespace + ":job:" + jobID }
func (s *QueueStore) chanKey(jobID string) string { return s.namespace + ":events:" + jobID }
func (s *QueueStore) activeKey() string           { return s.namespace + ":active" }

// Enqueue writes the initial status record, appends the job to the work
// list, and publishes a best-effort queued event. The status hash is
// written first so a racing consumer never sees a job without a record.
func (s *QueueStore) Enqueue(ctx context.Context, job *model.Job) (*model.JobStatus, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	now := time.Now().UTC()
	st := &model.JobStatus{
		JobID:          job.ID,
		Status:         model.JobQueued,
		Model:          job.Model,
		ConversationID: job.ConversationID,
		UserID:         job.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	fields := map[string]interface{}{
		"job_id":          job.ID,
		"status":          string(model.JobQueued),
		"model":           job.Model,
		"conversation_id": job.ConversationID,
		"user_id":         job.UserID,
		"created_at":      now.Format(time.RFC3339Nano),
		"updated_at":      now.Format(time.RFC3339Nano),
	}
	if err := s.client.HSet(ctx, s.jobKey(job.ID), fields); err != nil {
		return nil, fmt.Errorf("write status record: %w", err)
	}
	if err := s.client.Expire(ctx, s.jobKey(job.ID), s.ttl); err != nil {
		return nil, fmt.Errorf("expire status record: %w", err)
	}
	if err := s.client.LPush(ctx, s.queueKey(), data); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	if err := s.Publish(ctx, model.QueueEvent{
		JobID:  job.ID,
		Type:   model.EventStatus,
		Status: model.JobQueued,
	}); err != nil {
		s.log.Warn().Err(err).Str("job_id", job.ID).Msg("publish queued event failed")
	}
	return st, nil
}

// Pop blocks up to timeout for the next job. domain.ErrPopTimeout lets a
// worker check its shutdown flag without busy-looping; any other error is
// a store connectivity problem and propagates.
func (s *QueueStore) Pop(ctx context.Context, timeout time.Duration) (*model.Job, error) {
	vals, err := s.client.BRPop(ctx, timeout, s.queueKey())
	if err == goredis.Nil {
		return nil, domain.ErrPopTimeout
	}
	if err != nil {
		return nil, fmt.Errorf("queue pop: %w", err)
	}
	// BRPOP returns [key, value].
	if len(vals) < 2 {
		return nil, fmt.Errorf("queue pop: unexpected reply length %d", len(vals))
	}
	var job model.Job
	if err := json.Unmarshal([]byte(vals[1]), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

// MarkStatus upserts status fields and refreshes the TTL. Last write
// wins; there is deliberately no read-modify-write here.
func (s *QueueStore) MarkStatus(ctx context.Context, jobID string, status model.JobStatusValue, extra queue.StatusExtra) error {
	fields := map[string]interface{}{
		"status":     string(status),
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if extra.Error != "" {
		fields["error"] = extra.Error
	}
	if extra.Result != nil {
		data, err := json.Marshal(extra.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		fields["result"] = data
	}
	if err := s.client.HSet(ctx, s.jobKey(jobID), fields); err != nil {
		return fmt.Errorf("mark status: %w", err)
	}
	return s.client.Expire(ctx, s.jobKey(jobID), s.ttl)
}

func (s *QueueStore) GetStatus(ctx context.Context, jobID string) (*model.JobStatus, error) {
	raw, err := s.client.HGetAll(ctx, s.jobKey(jobID))
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	if len(raw) == 0 {
		return nil, domain.ErrNotFound
	}
	st := &model.JobStatus{
		JobID:          raw["job_id"],
		Status:         model.JobStatusValue(raw["status"]),
		Model:          raw["model"],
		ConversationID: raw["conversation_id"],
		UserID:         raw["user_id"],
		Error:          raw["error"],
	}
	st.CreatedAt = parseTime(raw["created_at"])
	st.UpdatedAt = parseTime(raw["updated_at"])
	st.LastHeartbeat = parseTime(raw["last_heartbeat"])
	if r := raw["result"]; r != "" {
		var res model.JobResult
		if err := json.Unmarshal([]byte(r), &res); err == nil {
			st.Result = &res
		}
	}
	return st, nil
}

// Publish is fire-and-forget from the job's point of view: callers log a
// returned error but never fail the job on it. The status hash stays the
// durable source of truth.
func (s *QueueStore) Publish(ctx context.Context, ev model.QueueEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.client.Publish(ctx, s.chanKey(ev.JobID), data)
}

// Subscribe attaches to a job's event channel. The returned subscription
// decodes events on a dedicated goroutine so callers get a true blocking
// receive instead of a poll loop.
func (s *QueueStore) Subscribe(ctx context.Context, jobID string) (queue.Subscription, error) {
	ps := s.client.Subscribe(ctx, s.chanKey(jobID))
	// Wait for the subscription to become active so no event published
	// after Subscribe returns can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", jobID, err)
	}

	sub := &subscription{
		ps:   ps,
		out:  make(chan model.QueueEvent, subscribeBuffer),
		done: make(chan struct{}),
	}
	go func() {
		defer close(sub.out)
		for msg := range ps.Channel() {
			var ev model.QueueEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.log.Warn().Err(err).Str("job_id", jobID).Msg("drop undecodable event")
				continue
			}
			// Close must unblock this send even when the consumer has
			// stopped draining a full buffer.
			select {
			case sub.out <- ev:
			case <-sub.done:
				return
			}
		}
	}()
	return sub, nil
}

type subscription struct {
	ps        *goredis.PubSub
	out       chan model.QueueEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) Events() <-chan model.QueueEvent { return s.out }

func (s *subscription) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.ps.Close()
}

func (s *QueueStore) RegisterActive(ctx context.Context, jobID string) error {
	return s.client.ZAdd(ctx, s.activeKey(), float64(time.Now().Unix()), jobID)
}

// Heartbeat refreshes the registry score, the last_heartbeat field, and
// the status record TTL in one liveness pulse.
func (s *QueueStore) Heartbeat(ctx context.Context, jobID string) error {
	now := time.Now()
	if err := s.client.ZAdd(ctx, s.activeKey(), float64(now.Unix()), jobID); err != nil {
		return fmt.Errorf("heartbeat registry: %w", err)
	}
	fields := map[string]interface{}{
		"last_heartbeat": now.UTC().Format(time.RFC3339Nano),
	}
	if err := s.client.HSet(ctx, s.jobKey(jobID), fields); err != nil {
		return fmt.Errorf("heartbeat status: %w", err)
	}
	return s.client.Expire(ctx, s.jobKey(jobID), s.ttl)
}

func (s *QueueStore) ClearActive(ctx context.Context, jobID string) error {
	return s.client.ZRem(ctx, s.activeKey(), jobID)
}

func (s *QueueStore) StaleActive(ctx context.Context, olderThan time.Time) ([]string, error) {
	max := strconv.FormatInt(olderThan.Unix(), 10)
	return s.client.ZRangeByScore(ctx, s.activeKey(), "-inf", max)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
