// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	APIKey          string        `yaml:"api_key"`
	StreamSecret    string        `yaml:"stream_secret"`      // HMAC key for per-job stream tokens
	StreamTokenTTL  time.Duration `yaml:"stream_token_ttl"`   // default 1h
	RateLimitPerMin int           `yaml:"rate_limit_per_min"` // enqueues per user per minute, 0 disables
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	Namespace  string        `yaml:"namespace"`   // key prefix, default "dispatch"
	JobTTL     time.Duration `yaml:"job_ttl"`     // status record TTL, default 1h
	PopTimeout time.Duration `yaml:"pop_timeout"` // blocking pop bound, default 2s
}

type WorkerConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // default 5s
	SoftTimeout       time.Duration `yaml:"soft_timeout"`       // warn-only agent call bound, default 2m
	ChunkChars        int           `yaml:"chunk_chars"`        // chunk size in characters, default 400
}

type WatchdogConfig struct {
	Interval   time.Duration `yaml:"interval"`    // scan period, default 15s
	StaleAfter time.Duration `yaml:"stale_after"` // heartbeat staleness threshold, default 60s
}

type StreamConfig struct {
	IdleHeartbeat time.Duration `yaml:"idle_heartbeat"` // SSE ping period, default 15s
	WaitTimeout   time.Duration `yaml:"wait_timeout"`   // default wait-for-completion bound, 5m
}

type AgentConfig struct {
	OpenAIKey       string `yaml:"openai_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	GeminiKey       string `yaml:"gemini_key"`
	GeminiBaseURL   string `yaml:"gemini_url"`
	DefaultModel    string `yaml:"default_model"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
}

type ArchiveConfig struct {
	URL string `yaml:"url"` // Postgres DSN; empty disables the archive
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	Worker   WorkerConfig   `yaml:"worker"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
	Stream   StreamConfig   `yaml:"stream"`
	Agent    AgentConfig    `yaml:"agent"`
	Archive  ArchiveConfig  `yaml:"archive"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(configPath string, dev bool) (*Config, error) {
	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	// Minimal validation
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Worker.ChunkChars < 1 {
		return nil, errors.New("worker.chunk_chars must be >= 1")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.StreamTokenTTL <= 0 {
		cfg.Server.StreamTokenTTL = time.Hour
	}
	if cfg.Queue.Namespace == "" {
		cfg.Queue.Namespace = "dispatch"
	}
	cfg.Queue.JobTTL = normalizeTTL(cfg.Queue.JobTTL)
	if cfg.Queue.PopTimeout <= 0 {
		cfg.Queue.PopTimeout = 2 * time.Second
	}
	if cfg.Worker.HeartbeatInterval <= 0 {
		cfg.Worker.HeartbeatInterval = 5 * time.Second
	}
	if cfg.Worker.SoftTimeout <= 0 {
		cfg.Worker.SoftTimeout = 2 * time.Minute
	}
	if cfg.Worker.ChunkChars == 0 {
		cfg.Worker.ChunkChars = 400
	}
	if cfg.Watchdog.Interval <= 0 {
		cfg.Watchdog.Interval = 15 * time.Second
	}
	if cfg.Watchdog.StaleAfter <= 0 {
		cfg.Watchdog.StaleAfter = 60 * time.Second
	}
	if cfg.Stream.IdleHeartbeat <= 0 {
		cfg.Stream.IdleHeartbeat = 15 * time.Second
	}
	if cfg.Stream.WaitTimeout <= 0 {
		cfg.Stream.WaitTimeout = 5 * time.Minute
	}
	if cfg.Agent.DefaultModel == "" {
		cfg.Agent.DefaultModel = "gpt-4o-mini"
	}
	if cfg.Agent.OpenAIBaseURL == "" {
		cfg.Agent.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	if cfg.Agent.MaxOutputTokens <= 0 {
		cfg.Agent.MaxOutputTokens = 4096
	}
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
