// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setRequiredEnv sets the minimum environment for a valid configuration.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ONCE_CLIENT_ID", "client-123")
	t.Setenv("ONCE_CLIENT_SECRET", "secret-456")
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "absent.yaml"))
}

// chdirTemp moves the test into an empty directory so no stray config.yaml is picked up.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(orig); err != nil {
			t.Errorf("restore working directory: %v", err)
		}
	})
	return dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"Token.SafetyMargin", cfg.Token.SafetyMargin, 60 * time.Second},
		{"Token.LockTTL", cfg.Token.LockTTL, 300 * time.Second},
		{"Token.PollAttempts", cfg.Token.PollAttempts, 5},
		{"Token.PollInitialDelay", cfg.Token.PollInitialDelay, 100 * time.Millisecond},
		{"Token.PreRefreshThreshold", cfg.Token.PreRefreshThreshold, 10 * time.Minute},
		{"Retry.MaxAttempts", cfg.Retry.MaxAttempts, 3},
		{"Retry.BaseDelay", cfg.Retry.BaseDelay, time.Second},
		{"Retry.MaxDelay", cfg.Retry.MaxDelay, 10 * time.Second},
		{"Breaker.FailureThreshold", cfg.Breaker.FailureThreshold, uint32(5)},
		{"Breaker.CoolDown", cfg.Breaker.CoolDown, 30 * time.Second},
		{"Sync.Concurrency", cfg.Sync.Concurrency, 20},
		{"Sync.JobTimeout", cfg.Sync.JobTimeout, 10 * time.Minute},
		{"Sync.UsageRetention", cfg.Sync.UsageRetention, 90 * 24 * time.Hour},
		{"Sync.EventRetention", cfg.Sync.EventRetention, 30 * 24 * time.Hour},
		{"Sync.CleanupHourUTC", cfg.Sync.CleanupHourUTC, 2},
		{"Monitor.TopUpCooldown", cfg.Monitor.TopUpCooldown, time.Hour},
		{"Provider.CallTimeout", cfg.Provider.CallTimeout, 10 * time.Second},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := map[string]string{
		"ONCE_CLIENT_ID":     "provider.client_id",
		"SYNC_CONCURRENCY":   "sync.concurrency",
		"RETRY_MAX_ATTEMPTS": "retry.max_attempts",
		"KV_BACKEND":         "kv.backend",
		"LOG_LEVEL":          "logging.level",
		"PATH":               "",
		"HOME":               "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEnvTransformValueSplitsLists(t *testing.T) {
	path, v := envTransformValue("CORS_ORIGINS", "https://a.example, https://b.example,")
	if path != "server.cors_origins" {
		t.Fatalf("path = %q", path)
	}
	items, ok := v.([]string)
	if !ok || len(items) != 2 || items[1] != "https://b.example" {
		t.Errorf("value = %#v", v)
	}

	if path, v := envTransformValue("HTTP_PORT", "9000"); path != "server.port" || v != "9000" {
		t.Errorf("scalar = %q, %#v", path, v)
	}
}

func TestLoadWithKoanfEnvVars(t *testing.T) {
	chdirTemp(t)
	setRequiredEnv(t)
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("SYNC_CONCURRENCY", "8")
	t.Setenv("RETRY_BASE_DELAY", "500ms")
	t.Setenv("BREAKER_COOL_DOWN", "45s")
	t.Setenv("KV_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("CORS_ORIGINS", "https://ops.example,https://noc.example")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Provider.ClientID != "client-123" {
		t.Errorf("Provider.ClientID = %q", cfg.Provider.ClientID)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Sync.Concurrency != 8 {
		t.Errorf("Sync.Concurrency = %d, want 8", cfg.Sync.Concurrency)
	}
	if cfg.Retry.BaseDelay != 500*time.Millisecond {
		t.Errorf("Retry.BaseDelay = %v, want 500ms", cfg.Retry.BaseDelay)
	}
	if cfg.Breaker.CoolDown != 45*time.Second {
		t.Errorf("Breaker.CoolDown = %v, want 45s", cfg.Breaker.CoolDown)
	}
	if cfg.KV.Backend != "redis" || cfg.KV.RedisURL != "redis://cache:6379/1" {
		t.Errorf("KV = %+v", cfg.KV)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != "https://ops.example" {
		t.Errorf("Server.CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Token.PollAttempts != 5 {
		t.Errorf("Token.PollAttempts = %d, want default 5", cfg.Token.PollAttempts)
	}
}

func TestLoadWithKoanfConfigFileAndEnvPrecedence(t *testing.T) {
	dir := chdirTemp(t)
	setRequiredEnv(t)

	path := filepath.Join(dir, "simsync.yaml")
	content := `
provider:
  base_url: https://gateway.example.com/1nce
retry:
  max_attempts: 4
sync:
  concurrency: 12
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("SYNC_CONCURRENCY", "6")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Provider.BaseURL != "https://gateway.example.com/1nce" {
		t.Errorf("Provider.BaseURL = %q", cfg.Provider.BaseURL)
	}
	if cfg.Retry.MaxAttempts != 4 {
		t.Errorf("Retry.MaxAttempts = %d, want 4 from file", cfg.Retry.MaxAttempts)
	}
	if cfg.Sync.Concurrency != 6 {
		t.Errorf("Sync.Concurrency = %d, want 6 from env", cfg.Sync.Concurrency)
	}
}

func TestLoadWithKoanfValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing credentials", map[string]string{"ONCE_CLIENT_SECRET": ""}, "ONCE_CLIENT_ID and ONCE_CLIENT_SECRET"},
		{"zero attempts", map[string]string{"RETRY_MAX_ATTEMPTS": "0"}, "RETRY_MAX_ATTEMPTS"},
		{"jitter breaks monotonic backoff", map[string]string{"RETRY_JITTER": "1.5"}, "RETRY_JITTER"},
		{"bad kv backend", map[string]string{"KV_BACKEND": "memcached"}, "KV_BACKEND"},
		{"bad driver", map[string]string{"DATABASE_DRIVER": "oracle"}, "DATABASE_DRIVER"},
		{"cleanup hour", map[string]string{"SYNC_CLEANUP_HOUR_UTC": "24"}, "SYNC_CLEANUP_HOUR_UTC"},
		{"pre-refresh inside margin", map[string]string{"TOKEN_PRE_REFRESH_THRESHOLD": "30s"}, "TOKEN_PRE_REFRESH_THRESHOLD"},
		{"bad base url", map[string]string{"ONCE_BASE_URL": "ftp://api"}, "scheme must be http or https"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdirTemp(t)
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadWithKoanf()
			if err == nil {
				t.Fatal("LoadWithKoanf() error = nil, want validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := chdirTemp(t)

	t.Run("none", func(t *testing.T) {
		t.Setenv(ConfigPathEnvVar, "")
		if got := findConfigFile(); got != "" {
			t.Errorf("findConfigFile() = %q, want empty", got)
		}
	})

	t.Run("env path wins", func(t *testing.T) {
		custom := filepath.Join(dir, "custom.yaml")
		if err := os.WriteFile(custom, []byte("logging:\n  level: debug\n"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		t.Setenv(ConfigPathEnvVar, custom)
		if got := findConfigFile(); got != custom {
			t.Errorf("findConfigFile() = %q, want %q", got, custom)
		}
	})
}
