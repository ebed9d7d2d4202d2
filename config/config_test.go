package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `{"storage":{"redis":{"host":"localhost","port":"6379"}}}`)
	cfg := LoadConfig(path)

	if cfg.Server.Address != ":8000" {
		t.Errorf("unexpected default address: %s", cfg.Server.Address)
	}
	if cfg.Limits.SessionTTL != 1800*time.Second {
		t.Errorf("unexpected default session ttl: %v", cfg.Limits.SessionTTL)
	}
	if cfg.Limits.RateMinInterval != 3*time.Second {
		t.Errorf("unexpected default rate interval: %v", cfg.Limits.RateMinInterval)
	}
	if cfg.Ingest.Workers != 2 || cfg.Ingest.QueueSize != 100 {
		t.Errorf("unexpected ingest defaults: %+v", cfg.Ingest)
	}
	if cfg.RAG.Provider != "mock" || cfg.RAG.ChunkTokens != 300 {
		t.Errorf("unexpected rag defaults: %+v", cfg.RAG)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := writeConfig(t, `{
		"storage": {"redis": {"host": "redis.internal", "port": "6380"}},
		"limits": {"session_ttl": "45m", "rate_min_interval": "5s"},
		"ingest": {"workers": 8},
		"rag": {"provider": "openai", "top_k": 3}
	}`)
	cfg := LoadConfig(path)

	if cfg.Storage.Redis.Host != "redis.internal" || cfg.Storage.Redis.Port != "6380" {
		t.Errorf("redis settings not applied: %+v", cfg.Storage.Redis)
	}
	if cfg.Limits.SessionTTL != 45*time.Minute {
		t.Errorf("session ttl not applied: %v", cfg.Limits.SessionTTL)
	}
	if cfg.Ingest.Workers != 8 {
		t.Errorf("workers not applied: %d", cfg.Ingest.Workers)
	}
	if cfg.RAG.Provider != "openai" || cfg.RAG.TopK != 3 {
		t.Errorf("rag settings not applied: %+v", cfg.RAG)
	}
}

func TestLoadConfig_RejectsBadLimits(t *testing.T) {
	path := writeConfig(t, `{
		"storage": {"redis": {"host": "localhost", "port": "6379"}},
		"limits": {"session_ttl": "1h", "inactivity_window": "10m"}
	}`)
	defer func() {
		if recover() == nil {
			t.Error("expected panic for inactivity window shorter than session ttl")
		}
	}()
	LoadConfig(path)
}
