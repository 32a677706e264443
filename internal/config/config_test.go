package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSubstitutesEnv(t *testing.T) {
	t.Setenv("OPSMESH_TEST_PORT", "9100")
	os.Unsetenv("OPSMESH_TEST_REDIS")

	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
		"server": {"port": ${OPSMESH_TEST_PORT:8080}},
		"database": {"redis": {"url": "${OPSMESH_TEST_REDIS:redis://localhost:6379}"}},
		"tasks": {"timeout_seconds": 30, "max_retries": 3}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Database.Redis.URL != "redis://localhost:6379" {
		t.Fatalf("redis url = %q, want default", cfg.Database.Redis.URL)
	}
	if cfg.Transport.Mode != "local" {
		t.Fatalf("transport mode = %q, want local default", cfg.Transport.Mode)
	}
	if cfg.Tasks.Timeout().Seconds() != 30 {
		t.Fatalf("timeout = %v, want 30s", cfg.Tasks.Timeout())
	}
}
