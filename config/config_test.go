package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.App.Name != "sagaclaw" {
		t.Errorf("App.Name = %q, want sagaclaw", cfg.App.Name)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Storage.Type != "badger" {
		t.Errorf("Storage.Type = %q, want badger", cfg.Storage.Type)
	}
	if cfg.Coordinator.MaxConcurrentSteps != 64 {
		t.Errorf("Coordinator.MaxConcurrentSteps = %d, want 64", cfg.Coordinator.MaxConcurrentSteps)
	}
	if cfg.Coordinator.RecoveryInterval != 30*time.Second {
		t.Errorf("Coordinator.RecoveryInterval = %v, want 30s", cfg.Coordinator.RecoveryInterval)
	}
	if cfg.Coordinator.TimeoutCheckInterval != 60*time.Second {
		t.Errorf("Coordinator.TimeoutCheckInterval = %v, want 60s", cfg.Coordinator.TimeoutCheckInterval)
	}
	if cfg.Coordinator.DefaultSagaTimeout != 300*time.Second {
		t.Errorf("Coordinator.DefaultSagaTimeout = %v, want 300s", cfg.Coordinator.DefaultSagaTimeout)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.App.Name != "sagaclaw" {
		t.Errorf("App.Name = %q, want sagaclaw", cfg.App.Name)
	}
	if cfg.Metrics.Port != 9091 {
		t.Errorf("Metrics.Port = %d, want 9091", cfg.Metrics.Port)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  name: sagaclaw-test
  environment: production
server:
  port: 9999
storage:
  type: memory
coordinator:
  max_concurrent_steps: 8
services:
  payments:
    base_url: http://payments.internal:8000
    timeout: 5s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.App.Name != "sagaclaw-test" {
		t.Errorf("App.Name = %q", cfg.App.Name)
	}
	if cfg.App.Environment != "production" {
		t.Errorf("App.Environment = %q", cfg.App.Environment)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("Storage.Type = %q", cfg.Storage.Type)
	}
	if cfg.Coordinator.MaxConcurrentSteps != 8 {
		t.Errorf("Coordinator.MaxConcurrentSteps = %d", cfg.Coordinator.MaxConcurrentSteps)
	}
	svc, ok := cfg.Services["payments"]
	if !ok {
		t.Fatalf("services.payments missing")
	}
	if svc.BaseURL != "http://payments.internal:8000" {
		t.Errorf("payments base_url = %q", svc.BaseURL)
	}
	if svc.Timeout != 5*time.Second {
		t.Errorf("payments timeout = %v", svc.Timeout)
	}
	// Unset keys keep their defaults.
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want default info", cfg.Log.Level)
	}
}

func TestLoadFromJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"server": {"port": 7777}, "log": {"level": "debug"}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("a = 1"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path, nil); err == nil {
		t.Fatalf("Load() accepted unsupported format")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml", nil); err == nil {
		t.Fatalf("Load() accepted missing file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SAGACLAW_SERVER_PORT", "6060")
	t.Setenv("SAGACLAW_LOG_LEVEL", "warn")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 6060 {
		t.Errorf("Server.Port = %d, want env override 6060", cfg.Server.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want env override warn", cfg.Log.Level)
	}
}

func TestLoadFlagOverridesBeatEnv(t *testing.T) {
	t.Setenv("SAGACLAW_SERVER_PORT", "6060")

	cfg, err := Load("", map[string]interface{}{
		"server.port": 5050,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 5050 {
		t.Errorf("Server.Port = %d, want flag override 5050", cfg.Server.Port)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name      string
		overrides map[string]interface{}
	}{
		{"bad environment", map[string]interface{}{"app.environment": "lab"}},
		{"bad log level", map[string]interface{}{"log.level": "loud"}},
		{"bad storage type", map[string]interface{}{"storage.type": "redis"}},
		{"bad port", map[string]interface{}{"server.port": 0}},
		{"bad sample rate", map[string]interface{}{"tracing.sample_rate": 2.0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load("", tc.overrides); err == nil {
				t.Fatalf("Load() accepted invalid config")
			}
		})
	}
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	s := cfg.String()
	if !strings.Contains(s, "sagaclaw") || !strings.Contains(s, "8080") {
		t.Errorf("String() = %q", s)
	}
}
