package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"agent-dispatch/internal/domain"
	"agent-dispatch/internal/domain/model"
	"agent-dispatch/internal/infra/metrics"

	"github.com/go-chi/chi/v5"
)

// Outward SSE protocol: OpenAI-style chat.completion.chunk frames in
// `data: {json}\n\n` envelopes, terminated by `data: [DONE]\n\n`. Idle
// periods are padded with comment lines so intermediary proxies don't
// drop the connection.

type streamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type streamChoice struct {
	Index        int         `json:"index"`
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type streamFrame struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model,omitempty"`
	Choices []streamChoice `json:"choices"`
	Usage   *model.Usage   `json:"usage,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if !s.authorizeStream(r, jobID) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	st, err := s.uc.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		s.log.Error().Err(err).Str("job_id", jobID).Msg("stream status read failed")
		http.Error(w, "Failed to read status", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	evs, err := s.uc.Events(ctx, jobID, true)
	if err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("stream subscribe failed")
		http.Error(w, "Failed to subscribe", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.IncActiveStreams()
	defer metrics.DecActiveStreams()

	b := &bridge{
		w:       w,
		flusher: flusher,
		jobID:   jobID,
		model:   st.Model,
	}

	idle := time.NewTicker(s.cfg.Stream.IdleHeartbeat)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-idle.C:
			b.ping()
		case ev, ok := <-evs:
			if !ok {
				// Iterator ended without a terminal event; one fallback
				// snapshot read so the stream never hangs open.
				s.terminalFallback(r, b)
				return
			}
			idle.Reset(s.cfg.Stream.IdleHeartbeat)
			if done := b.handle(ev); done {
				return
			}
		}
	}
}

func (s *Server) terminalFallback(r *http.Request, b *bridge) {
	st, err := s.uc.Status(r.Context(), b.jobID)
	switch {
	case err == nil && st.Status == model.JobCompleted:
		var usage *model.Usage
		if st.Result != nil {
			usage = st.Result.Usage
		}
		b.final("stop", usage, "")
	case err == nil && st.Status.Terminal():
		b.final("error", nil, st.Error)
	default:
		b.final("error", nil, "event stream ended before completion")
	}
	b.done()
}

// bridge translates queue events into outward SSE frames.
type bridge struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	jobID    string
	model    string
	roleSent bool
}

// handle emits the frame(s) for one event and reports whether the stream
// is finished.
func (b *bridge) handle(ev model.QueueEvent) bool {
	switch ev.Type {
	case model.EventChunk:
		b.announceRole()
		b.frame(streamFrame{
			ID:      b.jobID,
			Object:  "chat.completion.chunk",
			Created: time.Now().Unix(),
			Model:   b.model,
			Choices: []streamChoice{{Delta: streamDelta{Content: ev.Content}}},
		})
		metrics.IncStreamFrame("delta")
		return false
	case model.EventCompleted:
		b.announceRole()
		b.final("stop", ev.Usage, "")
		b.done()
		return true
	case model.EventFailed, model.EventInterrupt:
		b.final("error", ev.Usage, ev.Error)
		b.done()
		return true
	case model.EventHeartbeat:
		b.ping()
		return false
	case model.EventStatus:
		// Delta-less pulse; also defeats idle-connection timeouts.
		b.comment("status " + string(ev.Status))
		return false
	default:
		return false
	}
}

func (b *bridge) announceRole() {
	if b.roleSent {
		return
	}
	b.roleSent = true
	b.frame(streamFrame{
		ID:      b.jobID,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   b.model,
		Choices: []streamChoice{{Delta: streamDelta{Role: "assistant"}}},
	})
	metrics.IncStreamFrame("role")
}

func (b *bridge) final(reason string, usage *model.Usage, errText string) {
	b.frame(streamFrame{
		ID:      b.jobID,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   b.model,
		Choices: []streamChoice{{Delta: streamDelta{}, FinishReason: &reason}},
		Usage:   usage,
		Error:   errText,
	})
	metrics.IncStreamFrame("final")
}

func (b *bridge) frame(f streamFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	fmt.Fprintf(b.w, "data: %s\n\n", data)
	b.flusher.Flush()
}

func (b *bridge) done() {
	fmt.Fprint(b.w, "data: [DONE]\n\n")
	b.flusher.Flush()
}

func (b *bridge) ping() {
	b.comment("ping")
	metrics.IncStreamFrame("ping")
}

func (b *bridge) comment(text string) {
	fmt.Fprintf(b.w, ": %s\n\n", text)
	b.flusher.Flush()
}
