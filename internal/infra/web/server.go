package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"agent-dispatch/internal/config"
	"agent-dispatch/internal/infra/logging"
	"agent-dispatch/internal/infra/metrics"
	"agent-dispatch/internal/usecase"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// EnqueueLimiter caps how fast a single producer can enqueue jobs.
type EnqueueLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	EnqueueKey(userID string) string
}

// Server exposes the producer API: enqueue, status snapshot, blocking
// wait, and the SSE stream bridge.
type Server struct {
	uc      usecase.DispatchUseCase
	cfg     *config.Config
	tokens  *StreamTokenManager
	limiter EnqueueLimiter // nil disables rate limiting
	log     *zerolog.Logger
	server  *http.Server
}

func NewServer(uc usecase.DispatchUseCase, cfg *config.Config, limiter EnqueueLimiter, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "WebServer").Logger()
	return &Server{
		uc:      uc,
		cfg:     cfg,
		tokens:  NewStreamTokenManager(cfg.Server.StreamSecret, cfg.Server.StreamTokenTTL),
		limiter: limiter,
		log:     &l,
	}
}

// Router builds the chi router with the middleware stack and all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireAPIKey)
			r.Post("/", s.enqueueHandler)
			r.Get("/{jobID}", s.statusHandler)
			r.Get("/{jobID}/wait", s.waitHandler)
			r.Post("/{jobID}/interrupt", s.interruptHandler)
		})
		// The stream route accepts either the API key or a per-job
		// signed token, so EventSource clients can attach.
		r.Get("/{jobID}/stream", s.streamHandler)
	})

	return r
}

func (s *Server) Start() error {
	metrics.MustRegister()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler: s.Router(),
	}
	s.log.Info().Int("port", s.cfg.Server.Port).Msg("http server listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps the recorder transparent for the SSE handler.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		ctx := logging.WithTraceID(r.Context(), chimw.GetReqID(r.Context()))
		next.ServeHTTP(rec, r.WithContext(ctx))

		logging.With(ctx, s.log).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration_ms", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Msg("request")
	})
}
