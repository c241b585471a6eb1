package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
server:
  port: 8080
engines:
  - name: atlas
    base_url: https://atlas.example.com
    api_key: test-key
  - name: borealis
    base_url: https://borealis.example.com
budget:
  daily_token_limit: 500
  user_token_limit: 100
cache:
  backend: memory
  ttl: 2m
retry:
  max_attempts: 4
`

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, validYAML)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if len(cfg.Engines) != 2 {
		t.Fatalf("expected 2 engines, got %d", len(cfg.Engines))
	}
	if cfg.Engines[0].Name != "atlas" {
		t.Errorf("engines[0].Name = %q, want atlas", cfg.Engines[0].Name)
	}
	if cfg.Budget.DailyTokenLimit != 500 {
		t.Errorf("Budget.DailyTokenLimit = %d, want 500", cfg.Budget.DailyTokenLimit)
	}
	if cfg.Cache.TTL != 2*time.Minute {
		t.Errorf("Cache.TTL = %v, want 2m", cfg.Cache.TTL)
	}
	if cfg.Retry.MaxAttempts != 4 {
		t.Errorf("Retry.MaxAttempts = %d, want 4", cfg.Retry.MaxAttempts)
	}
}

func TestDefaultsApply(t *testing.T) {
	path := writeConfigFile(t, `
engines:
  - name: atlas
    base_url: https://atlas.example.com
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
	if !cfg.Breaker.Enabled {
		t.Error("Breaker.Enabled should default to true")
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want default 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("Cache.Backend = %q, want default memory", cfg.Cache.Backend)
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("ATLAS_KEY", "secret-from-env")
	path := writeConfigFile(t, `
engines:
  - name: atlas
    base_url: https://atlas.example.com
    api_key: ${ATLAS_KEY}
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Engines[0].APIKey != "secret-from-env" {
		t.Errorf("APIKey = %q, want secret-from-env", cfg.Engines[0].APIKey)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no engines", `server: {port: 8080}`},
		{"missing name", `
engines:
  - base_url: https://x.example.com
`},
		{"missing base_url", `
engines:
  - name: atlas
`},
		{"duplicate name", `
engines:
  - name: atlas
    base_url: https://a.example.com
  - name: atlas
    base_url: https://b.example.com
`},
		{"bad backend", `
engines:
  - name: atlas
    base_url: https://a.example.com
cache:
  backend: memcached
`},
		{"redis without addr", `
engines:
  - name: atlas
    base_url: https://a.example.com
cache:
  backend: redis
`},
		{"zero retry attempts", `
engines:
  - name: atlas
    base_url: https://a.example.com
retry:
  max_attempts: 0
`},
		{"admin without token", `
engines:
  - name: atlas
    base_url: https://a.example.com
admin:
  enabled: true
`},
		{"metrics path without slash", `
engines:
  - name: atlas
    base_url: https://a.example.com
metrics:
  enabled: true
  path: metrics
`},
		{"metrics enabled with empty path", `
engines:
  - name: atlas
    base_url: https://a.example.com
metrics:
  enabled: true
  path: ""
`},
		{"tracing without service name", `
engines:
  - name: atlas
    base_url: https://a.example.com
tracing:
  enabled: true
  service_name: ""
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.yaml)
			if _, err := LoadFromFile(path); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestManagerGetAndReload(t *testing.T) {
	path := writeConfigFile(t, validYAML)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mgr, err := NewManager(path, logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer mgr.Close()

	if got := mgr.Get().Budget.DailyTokenLimit; got != 500 {
		t.Fatalf("Get().Budget.DailyTokenLimit = %d, want 500", got)
	}

	changed := make(chan *Config, 1)
	mgr.OnChange(func(c *Config) { changed <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	updated := []byte(`
engines:
  - name: atlas
    base_url: https://atlas.example.com
budget:
  daily_token_limit: 900
`)
	if err := os.WriteFile(path, updated, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	select {
	case cfg := <-changed:
		if cfg.Budget.DailyTokenLimit != 900 {
			t.Fatalf("reloaded DailyTokenLimit = %d, want 900", cfg.Budget.DailyTokenLimit)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}

	if got := mgr.Get().Budget.DailyTokenLimit; got != 900 {
		t.Fatalf("Get() after reload = %d, want 900", got)
	}
}

func TestManagerBadReloadKeepsCurrent(t *testing.T) {
	path := writeConfigFile(t, validYAML)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mgr, err := NewManager(path, logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer mgr.Close()

	before := mgr.Status()

	if err := os.WriteFile(path, []byte("engines: []"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := mgr.Reload(); err == nil {
		t.Fatal("Reload() should fail on an invalid file")
	}

	if got := mgr.Get().Budget.DailyTokenLimit; got != 500 {
		t.Fatalf("config changed after invalid reload: DailyTokenLimit = %d", got)
	}
	if got := mgr.Status().ReloadCount; got != before.ReloadCount {
		t.Fatalf("failed reload counted: ReloadCount = %d, want %d", got, before.ReloadCount)
	}
}

func TestManagerStatusTracksReloads(t *testing.T) {
	path := writeConfigFile(t, validYAML)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mgr, err := NewManager(path, logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer mgr.Close()

	status := mgr.Status()
	if status.Path != path {
		t.Fatalf("Status().Path = %q, want %q", status.Path, path)
	}
	if status.ReloadCount != 1 {
		t.Fatalf("Status().ReloadCount = %d, want 1 after initial load", status.ReloadCount)
	}
	if status.LoadedAt.IsZero() {
		t.Fatal("Status().LoadedAt is zero")
	}
	if status.RestartRequired {
		t.Fatal("fresh manager should not require a restart")
	}

	// Budget changes apply live and do not flag a restart.
	if err := os.WriteFile(path, []byte(`
engines:
  - name: atlas
    api_key: test-key
    base_url: https://atlas.example.com
  - name: borealis
    base_url: https://borealis.example.com
budget:
  daily_token_limit: 900
`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	status = mgr.Status()
	if status.ReloadCount != 2 {
		t.Fatalf("Status().ReloadCount = %d, want 2", status.ReloadCount)
	}
	if status.RestartRequired {
		t.Fatal("budget-only change should not require a restart")
	}
	if got := mgr.Get().Budget.DailyTokenLimit; got != 900 {
		t.Fatalf("Get().Budget.DailyTokenLimit = %d, want 900", got)
	}
}

func TestManagerFlagsRestartOnEngineChange(t *testing.T) {
	path := writeConfigFile(t, validYAML)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mgr, err := NewManager(path, logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer mgr.Close()

	// Dropping an engine cannot be applied live: invokers are bound at
	// startup.
	if err := os.WriteFile(path, []byte(`
engines:
  - name: atlas
    base_url: https://atlas.example.com
`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if !mgr.Status().RestartRequired {
		t.Fatal("engine list change should set RestartRequired")
	}
}
