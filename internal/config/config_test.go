package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("QUIZ_TEST_SECRET", "s3cret")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `server:
  port: "9090"
auth:
  secret: ${QUIZ_TEST_SECRET}
  admins: ["admin-1", "admin-2"]
broadcast:
  concurrency: 16
  timeout: 2s
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Auth.Secret != "s3cret" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Auth.Admins) != 2 || cfg.Broadcast.Concurrency != 16 {
		t.Fatalf("unexpected auth/broadcast section: %+v", cfg)
	}
	if got := TTLDuration(cfg.Broadcast.Timeout, time.Second); got != 2*time.Second {
		t.Fatalf("timeout = %v", got)
	}
}

func TestTTLDurationFallback(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("empty should fall back, got %v", got)
	}
	if got := TTLDuration("soon", time.Minute); got != time.Minute {
		t.Fatalf("invalid should fall back, got %v", got)
	}
}
