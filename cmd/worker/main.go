// File: cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"agent-dispatch/internal/config"
	"agent-dispatch/internal/domain/ports/adapter"
	"agent-dispatch/internal/domain/ports/repository"
	agentAdapters "agent-dispatch/internal/infra/adapters/agent"
	pg "agent-dispatch/internal/infra/db/postgres"
	"agent-dispatch/internal/infra/logging"
	"agent-dispatch/internal/infra/metrics"
	red "agent-dispatch/internal/infra/redis"
	"agent-dispatch/internal/infra/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Overridden at build time via -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop agent)")
	metricsPort := flag.Int("metrics-port", 9091, "prometheus listen port")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	store := red.NewQueueStore(redisClient, cfg.Queue.Namespace, cfg.Queue.JobTTL, logger)

	// ---- Agent invoker (dev -> noop, else routed by model) ----
	invoker, err := buildInvoker(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("agent invoker")
	}
	logger.Info().Str("invoker", invoker.Name()).Msg("agent invoker ready")

	// ---- Optional terminal-job archive ----
	var archive repository.JobArchive
	if cfg.Archive.URL != "" {
		pool, err := pg.NewPgxPool(ctx, cfg.Archive.URL, 4)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres")
		}
		defer pool.Close()
		repo := pg.NewJobArchiveRepo(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("archive schema")
		}
		archive = repo
		logger.Info().Msg("terminal-job archive enabled")
	}

	metrics.SetBuildInfo(version, commit)
	metrics.MustRegister()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", *metricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error().Err(err).Msg("metrics server")
		}
	}()

	wd := worker.NewWatchdog(store, archive, cfg.Watchdog.Interval, cfg.Watchdog.StaleAfter, logger)
	go func() {
		if err := wd.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("watchdog stopped")
		}
	}()

	runner := worker.NewRunner(store, invoker, archive, worker.Options{
		PopTimeout:        cfg.Queue.PopTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		SoftTimeout:       cfg.Worker.SoftTimeout,
		ChunkChars:        cfg.Worker.ChunkChars,
	}, logger)

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker stopped")
	}
	logger.Info().Msg("worker exited")
}

func buildInvoker(ctx context.Context, cfg *config.Config) (adapter.AgentInvoker, error) {
	if cfg.Runtime.Dev {
		return agentAdapters.NewNoopInvoker(), nil
	}

	byProvider := map[string]adapter.AgentInvoker{}
	if cfg.Agent.OpenAIKey != "" {
		inv, err := agentAdapters.NewOpenAICompatInvoker(cfg.Agent.OpenAIKey, cfg.Agent.OpenAIBaseURL, cfg.Agent.DefaultModel)
		if err != nil {
			return nil, err
		}
		byProvider["openai"] = inv
	}
	if cfg.Agent.GeminiKey != "" {
		inv, err := agentAdapters.NewGeminiInvoker(ctx, cfg.Agent.GeminiKey, cfg.Agent.GeminiBaseURL, cfg.Agent.DefaultModel, cfg.Agent.MaxOutputTokens)
		if err != nil {
			return nil, err
		}
		byProvider["gemini"] = inv
	}
	if len(byProvider) == 0 {
		return nil, errors.New("no agent provider configured: set agent.openai_key or agent.gemini_key")
	}

	defaultProvider := "openai"
	if _, ok := byProvider["openai"]; !ok {
		defaultProvider = "gemini"
	}
	return agentAdapters.NewMultiInvoker(defaultProvider, byProvider), nil
}
