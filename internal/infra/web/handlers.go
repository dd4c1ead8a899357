package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"agent-dispatch/internal/domain"
	"agent-dispatch/internal/domain/model"
	"agent-dispatch/internal/infra/logging"
	"agent-dispatch/internal/usecase"

	"github.com/go-chi/chi/v5"
)

// enqueueRequest is the expected JSON body for dispatching a job.
type enqueueRequest struct {
	Model          string             `json:"model"`
	ConversationID string             `json:"conversation_id"`
	UserID         string             `json:"user_id"`
	UserRole       string             `json:"user_role"`
	Text           string             `json:"text"`
	RawUserText    string             `json:"raw_user_text,omitempty"`
	Attachments    []model.Attachment `json:"attachments,omitempty"`
	Metadata       map[string]string  `json:"metadata,omitempty"`
	Stream         bool               `json:"stream"`
}

type enqueueResponse struct {
	JobID       string               `json:"job_id"`
	Status      model.JobStatusValue `json:"status"`
	StreamToken string               `json:"stream_token,omitempty"`
	StreamURL   string               `json:"stream_url"`
}

func (s *Server) enqueueHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID != "" {
		ctx = logging.WithUserID(ctx, req.UserID)
	}
	if req.ConversationID != "" {
		ctx = logging.WithConversationID(ctx, req.ConversationID)
	}

	if s.limiter != nil && s.cfg.Server.RateLimitPerMin > 0 && req.UserID != "" {
		ok, err := s.limiter.Allow(ctx, s.limiter.EnqueueKey(req.UserID), s.cfg.Server.RateLimitPerMin, time.Minute)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", req.UserID).Msg("rate limit check failed")
		} else if !ok {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}

	st, err := s.uc.Enqueue(ctx, usecase.EnqueueRequest{
		Model:          req.Model,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		UserRole:       req.UserRole,
		Text:           req.Text,
		RawUserText:    req.RawUserText,
		Attachments:    req.Attachments,
		Metadata:       req.Metadata,
		Stream:         req.Stream,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			http.Error(w, "text is required", http.StatusBadRequest)
			return
		}
		s.log.Error().Err(err).Msg("enqueue failed")
		http.Error(w, "Failed to enqueue job", http.StatusServiceUnavailable)
		return
	}

	resp := enqueueResponse{
		JobID:     st.JobID,
		Status:    st.Status,
		StreamURL: "/api/v1/jobs/" + st.JobID + "/stream",
	}
	if s.tokens.Enabled() {
		if tok, err := s.tokens.Mint(st.JobID); err == nil {
			resp.StreamToken = tok
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	st, err := s.uc.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		s.log.Error().Err(err).Str("job_id", jobID).Msg("status read failed")
		http.Error(w, "Failed to read status", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// interruptHandler force-terminates a running job.
func (s *Server) interruptHandler(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	err := s.uc.Interrupt(r.Context(), jobID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Job not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrAlreadyTerminal):
		http.Error(w, "Job already finished", http.StatusConflict)
	default:
		s.log.Error().Err(err).Str("job_id", jobID).Msg("interrupt failed")
		http.Error(w, "Failed to interrupt job", http.StatusInternalServerError)
	}
}

// waitHandler blocks until the job terminates or the timeout elapses,
// then returns the terminal event.
func (s *Server) waitHandler(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	timeout := s.cfg.Stream.WaitTimeout
	if q := r.URL.Query().Get("timeout"); q != "" {
		secs, err := strconv.Atoi(q)
		if err != nil || secs <= 0 {
			http.Error(w, "Invalid timeout", http.StatusBadRequest)
			return
		}
		timeout = time.Duration(secs) * time.Second
	}

	if _, err := s.uc.Status(r.Context(), jobID); errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	ev, err := s.uc.Wait(r.Context(), jobID, timeout)
	if err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("wait failed")
		http.Error(w, "Failed to wait for job", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ev)
}
