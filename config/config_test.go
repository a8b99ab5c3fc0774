package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ReadInterval != 20*time.Second {
		t.Errorf("ReadInterval default = %v, want 20s", cfg.ReadInterval)
	}
	if cfg.WriteInterval != 60*time.Second {
		t.Errorf("WriteInterval default = %v, want 60s", cfg.WriteInterval)
	}
	if cfg.MaxWriteRetries != 3 {
		t.Errorf("MaxWriteRetries default = %d, want 3", cfg.MaxWriteRetries)
	}
	if cfg.FetchLimit != 200 {
		t.Errorf("FetchLimit default = %d, want 200", cfg.FetchLimit)
	}
	if cfg.DBDsn == "" {
		t.Error("DBDsn default empty")
	}
	if cfg.VertexModel == "" {
		t.Error("VertexModel default empty")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BUZZ_READ_INTERVAL", "5s")
	t.Setenv("BUZZ_WRITE_INTERVAL", "90s")
	t.Setenv("BUZZ_MAX_WRITE_RETRIES", "7")
	t.Setenv("BUZZ_FETCH_LIMIT", "50")
	t.Setenv("YT_API_KEYS", "key-a, key-b , ,key-c")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ReadInterval != 5*time.Second {
		t.Errorf("ReadInterval = %v, want 5s", cfg.ReadInterval)
	}
	if cfg.WriteInterval != 90*time.Second {
		t.Errorf("WriteInterval = %v, want 90s", cfg.WriteInterval)
	}
	if cfg.MaxWriteRetries != 7 {
		t.Errorf("MaxWriteRetries = %d, want 7", cfg.MaxWriteRetries)
	}
	if cfg.FetchLimit != 50 {
		t.Errorf("FetchLimit = %d, want 50", cfg.FetchLimit)
	}
	if len(cfg.YouTubeAPIKeys) != 3 {
		t.Fatalf("YouTubeAPIKeys = %v, want 3 keys", cfg.YouTubeAPIKeys)
	}
	if cfg.YouTubeAPIKeys[1] != "key-b" {
		t.Errorf("YouTubeAPIKeys[1] = %q, want key-b", cfg.YouTubeAPIKeys[1])
	}
}

func TestLoadInvalidRetries(t *testing.T) {
	t.Setenv("BUZZ_MAX_WRITE_RETRIES", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for BUZZ_MAX_WRITE_RETRIES=0")
	}
}

func TestValidateIngestReady(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidateIngestReady(); err == nil {
		t.Fatal("expected error with no API keys")
	}
	cfg.YouTubeAPIKeys = []string{"k"}
	if err := cfg.ValidateIngestReady(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
