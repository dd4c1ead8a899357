package web

import (
	"context"
	"sync"
	"time"

	"agent-dispatch/internal/config"
	"agent-dispatch/internal/domain"
	"agent-dispatch/internal/domain/model"
	"agent-dispatch/internal/usecase"

	"github.com/rs/zerolog"
)

// --- Mock use case ---

// fakeDispatchUC scripts the use case layer for handler tests.
type fakeDispatchUC struct {
	mu       sync.Mutex
	statuses map[string]*model.JobStatus
	events   map[string][]model.QueueEvent

	enqueueErr error
	lastReq    usecase.EnqueueRequest
}

func newFakeUC() *fakeDispatchUC {
	return &fakeDispatchUC{
		statuses: map[string]*model.JobStatus{},
		events:   map[string][]model.QueueEvent{},
	}
}

func (f *fakeDispatchUC) Enqueue(ctx context.Context, req usecase.EnqueueRequest) (*model.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}
	f.lastReq = req
	st := &model.JobStatus{
		JobID:     "01TESTJOB",
		Status:    model.JobQueued,
		Model:     req.Model,
		UserID:    req.UserID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.statuses[st.JobID] = st
	return st, nil
}

func (f *fakeDispatchUC) Status(ctx context.Context, jobID string) (*model.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (f *fakeDispatchUC) Events(ctx context.Context, jobID string, includeSnapshot bool) (<-chan model.QueueEvent, error) {
	f.mu.Lock()
	evs := append([]model.QueueEvent(nil), f.events[jobID]...)
	f.mu.Unlock()
	ch := make(chan model.QueueEvent)
	go func() {
		defer close(ch)
		for _, ev := range evs {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Type.Terminal() {
				return
			}
		}
	}()
	return ch, nil
}

func (f *fakeDispatchUC) Wait(ctx context.Context, jobID string, timeout time.Duration) (model.QueueEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events[jobID] {
		if ev.Type.Terminal() {
			return ev, nil
		}
	}
	return model.QueueEvent{JobID: jobID, Type: model.EventFailed, Status: model.JobFailed, Error: "timed out waiting for completion"}, nil
}

func (f *fakeDispatchUC) Interrupt(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if st.Status.Terminal() {
		return domain.ErrAlreadyTerminal
	}
	st.Status = model.JobInterrupted
	return nil
}

func (f *fakeDispatchUC) setStatus(st *model.JobStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[st.JobID] = st
}

func (f *fakeDispatchUC) setEvents(jobID string, evs ...model.QueueEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[jobID] = evs
}

// --- Test harness ---

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			APIKey:         "test-key",
			StreamSecret:   "stream-secret",
			StreamTokenTTL: time.Hour,
		},
		Stream: config.StreamConfig{
			IdleHeartbeat: time.Minute,
			WaitTimeout:   time.Minute,
		},
	}
}

func newTestLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

func testServer(uc usecase.DispatchUseCase, cfg *config.Config) *Server {
	return NewServer(uc, cfg, nil, newTestLogger())
}

// fakeLimiter admits the first allow calls and rejects the rest.
type fakeLimiter struct {
	mu      sync.Mutex
	allowed int
	calls   int
}

func (l *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.calls <= l.allowed, nil
}

func (l *fakeLimiter) EnqueueKey(userID string) string { return "test:ratelimit:" + userID }
