package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "redis:\n  url: \"localhost:6379\"\n")
	cfg, err := LoadConfig(path, false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Queue.Namespace != "dispatch" {
		t.Errorf("namespace = %q, want dispatch", cfg.Queue.Namespace)
	}
	if cfg.Queue.JobTTL != time.Hour {
		t.Errorf("job ttl = %v, want 1h", cfg.Queue.JobTTL)
	}
	if cfg.Queue.PopTimeout != 2*time.Second {
		t.Errorf("pop timeout = %v, want 2s", cfg.Queue.PopTimeout)
	}
	if cfg.Worker.HeartbeatInterval != 5*time.Second {
		t.Errorf("heartbeat = %v, want 5s", cfg.Worker.HeartbeatInterval)
	}
	if cfg.Worker.ChunkChars != 400 {
		t.Errorf("chunk chars = %d, want 400", cfg.Worker.ChunkChars)
	}
	if cfg.Watchdog.Interval != 15*time.Second || cfg.Watchdog.StaleAfter != 60*time.Second {
		t.Errorf("watchdog = %v/%v, want 15s/60s", cfg.Watchdog.Interval, cfg.Watchdog.StaleAfter)
	}
	if cfg.Stream.IdleHeartbeat != 15*time.Second {
		t.Errorf("idle heartbeat = %v, want 15s", cfg.Stream.IdleHeartbeat)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("log defaults = %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
	if cfg.Agent.DefaultModel == "" {
		t.Error("default model not applied")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
redis:
  url: "redis:6379"
queue:
  namespace: agents
  job_ttl: 30m
worker:
  heartbeat_interval: 1s
  chunk_chars: 3
`)
	cfg, err := LoadConfig(path, true)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Queue.Namespace != "agents" {
		t.Errorf("namespace = %q", cfg.Queue.Namespace)
	}
	if cfg.Queue.JobTTL != 30*time.Minute {
		t.Errorf("job ttl = %v", cfg.Queue.JobTTL)
	}
	if cfg.Worker.ChunkChars != 3 {
		t.Errorf("chunk chars = %d", cfg.Worker.ChunkChars)
	}
	if !cfg.Runtime.Dev {
		t.Error("dev flag not carried into runtime config")
	}
}

func TestLoadConfigRequiresRedis(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")
	if _, err := LoadConfig(path, false); err == nil {
		t.Fatal("expected error for missing redis.url")
	}
}

func TestLoadConfigRejectsBadChunkSize(t *testing.T) {
	path := writeConfig(t, `
redis:
  url: "localhost:6379"
worker:
  chunk_chars: -5
`)
	if _, err := LoadConfig(path, false); err == nil {
		t.Fatal("expected error for negative chunk_chars")
	}
}
