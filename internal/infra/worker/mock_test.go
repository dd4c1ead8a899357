package worker

import (
	"context"
	"sync"
	"time"

	"agent-dispatch/internal/domain"
	"agent-dispatch/internal/domain/model"
	"agent-dispatch/internal/domain/ports/adapter"
	"agent-dispatch/internal/domain/ports/queue"
)

// ---- Fakes ----

type fakeStore struct {
	mu        sync.Mutex
	queued    []*model.Job
	statuses  map[string]*model.JobStatus
	published map[string][]model.QueueEvent
	active    map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statuses:  map[string]*model.JobStatus{},
		published: map[string][]model.QueueEvent{},
		active:    map[string]time.Time{},
	}
}

func (f *fakeStore) Enqueue(ctx context.Context, job *model.Job) (*model.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	st := &model.JobStatus{JobID: job.ID, Status: model.JobQueued, CreatedAt: now, UpdatedAt: now}
	f.statuses[job.ID] = st
	f.queued = append(f.queued, job)
	return st, nil
}

func (f *fakeStore) Pop(ctx context.Context, timeout time.Duration) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queued) == 0 {
		return nil, domain.ErrPopTimeout
	}
	job := f.queued[0]
	f.queued = f.queued[1:]
	return job, nil
}

func (f *fakeStore) MarkStatus(ctx context.Context, jobID string, status model.JobStatusValue, extra queue.StatusExtra) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[jobID]
	if !ok {
		st = &model.JobStatus{JobID: jobID, CreatedAt: time.Now()}
		f.statuses[jobID] = st
	}
	st.Status = status
	st.UpdatedAt = time.Now()
	if extra.Error != "" {
		st.Error = extra.Error
	}
	if extra.Result != nil {
		st.Result = extra.Result
	}
	return nil
}

func (f *fakeStore) GetStatus(ctx context.Context, jobID string) (*model.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (f *fakeStore) Publish(ctx context.Context, ev model.QueueEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[ev.JobID] = append(f.published[ev.JobID], ev)
	return nil
}

func (f *fakeStore) Subscribe(ctx context.Context, jobID string) (queue.Subscription, error) {
	ch := make(chan model.QueueEvent)
	close(ch)
	return nopSub{ch: ch}, nil
}

type nopSub struct{ ch chan model.QueueEvent }

func (s nopSub) Events() <-chan model.QueueEvent { return s.ch }
func (s nopSub) Close() error                    { return nil }

func (f *fakeStore) RegisterActive(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[jobID] = time.Now()
	return nil
}

func (f *fakeStore) Heartbeat(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[jobID] = time.Now()
	if st, ok := f.statuses[jobID]; ok {
		st.LastHeartbeat = time.Now()
	}
	return nil
}

func (f *fakeStore) ClearActive(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, jobID)
	return nil
}

func (f *fakeStore) StaleActive(ctx context.Context, olderThan time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id, at := range f.active {
		if at.Before(olderThan) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeStore) eventsFor(jobID string) []model.QueueEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.QueueEvent(nil), f.published[jobID]...)
}

func (f *fakeStore) isActive(jobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.active[jobID]
	return ok
}

func (f *fakeStore) setActiveAt(jobID string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[jobID] = at
}

type fakeArchive struct {
	mu    sync.Mutex
	saved []*model.JobStatus
}

func (a *fakeArchive) Save(ctx context.Context, st *model.JobStatus) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, st)
	return nil
}

type stubInvoker struct {
	name  string
	delay time.Duration
	res   *adapter.Result
	err   error
}

func (s *stubInvoker) Name() string { return s.name }

func (s *stubInvoker) Invoke(ctx context.Context, inv adapter.Invocation) (*adapter.Result, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.res, s.err
}
