// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config file locations searched in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/simsync/config.yaml",
	"/etc/simsync/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			BaseURL:            "https://api.1nce.com",
			TokenPath:          "/oauth/token",
			CallTimeout:        10 * time.Second,
			RateLimitPerSecond: 0,
			RateLimitBurst:     20,
			RecorderBuffer:     1024,
		},
		Token: TokenConfig{
			SafetyMargin:        60 * time.Second,
			LockTTL:             300 * time.Second,
			PollAttempts:        5,
			PollInitialDelay:    100 * time.Millisecond,
			PreRefreshThreshold: 10 * time.Minute,
			DefaultTTL:          3600 * time.Second,
			FatalAfter:          3,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			BaseDelay:    time.Second,
			Multiplier:   2,
			MaxDelay:     10 * time.Second,
			JitterFactor: 0.1,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			CoolDown:         30 * time.Second,
			Interval:         time.Minute,
		},
		Sync: SyncConfig{
			Enabled:              true,
			Concurrency:          20,
			JobTimeout:           10 * time.Minute,
			PageSize:             100,
			InitialLookback:      24 * time.Hour,
			RunOnStartup:         false,
			InventoryInterval:    15 * time.Minute,
			UsageInterval:        60 * time.Minute,
			QuotaInterval:        30 * time.Minute,
			TokenRefreshInterval: time.Minute,
			CleanupHourUTC:       2,
			UsageRetention:       90 * 24 * time.Hour,
			EventRetention:       30 * 24 * time.Hour,
			JobRetention:         30 * 24 * time.Hour,
		},
		Monitor: MonitorConfig{
			TopUpCooldown:              time.Hour,
			DefaultTopUpVolume:         100 << 20, // 100 MiB
			DefaultThresholdPercentage: 90,
		},
		Alert: AlertConfig{
			WebhookTimeout:    5 * time.Second,
			WebhookMaxRetries: 3,
		},
		KV: KVConfig{
			Backend:    "badger",
			RedisURL:   "redis://127.0.0.1:6379/0",
			BadgerPath: "/data/simsync-kv",
			KeyPrefix:  "simsync",
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "/data/simsync.db",
			MaxOpenConns: 10,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Timeout:         30 * time.Second,
			RateLimitReqs:   60,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf loads configuration from defaults, an optional YAML file and
// environment variables, in that order, then validates the result.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// ONCE_CLIENT_ID -> provider.client_id, SYNC_CONCURRENCY -> sync.concurrency
	if err := k.Load(env.ProviderWithValue("", ".", envTransformValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var envMappings = map[string]string{
	// Provider
	"once_base_url":           "provider.base_url",
	"once_client_id":          "provider.client_id",
	"once_client_secret":      "provider.client_secret",
	"once_token_path":         "provider.token_path",
	"provider_call_timeout":   "provider.call_timeout",
	"provider_rate_limit":     "provider.rate_limit_per_second",
	"provider_rate_burst":     "provider.rate_limit_burst",
	"provider_recorder_queue": "provider.recorder_buffer",

	// Token
	"token_safety_margin":         "token.safety_margin",
	"token_lock_ttl":              "token.lock_ttl",
	"token_poll_attempts":         "token.poll_attempts",
	"token_poll_initial_delay":    "token.poll_initial_delay",
	"token_pre_refresh_threshold": "token.pre_refresh_threshold",
	"token_default_ttl":           "token.default_ttl",
	"token_fatal_after":           "token.fatal_after",

	// Retry and circuit breaker
	"retry_max_attempts":        "retry.max_attempts",
	"retry_base_delay":          "retry.base_delay",
	"retry_multiplier":          "retry.multiplier",
	"retry_max_delay":           "retry.max_delay",
	"retry_jitter":              "retry.jitter_factor",
	"breaker_failure_threshold": "breaker.failure_threshold",
	"breaker_cool_down":         "breaker.cool_down",
	"breaker_interval":          "breaker.interval",

	// Sync
	"sync_enabled":                "sync.enabled",
	"sync_concurrency":            "sync.concurrency",
	"sync_job_timeout":            "sync.job_timeout",
	"sync_page_size":              "sync.page_size",
	"sync_initial_lookback":       "sync.initial_lookback",
	"sync_run_on_startup":         "sync.run_on_startup",
	"sync_inventory_interval":     "sync.inventory_interval",
	"sync_usage_interval":         "sync.usage_interval",
	"sync_quota_interval":         "sync.quota_interval",
	"sync_token_refresh_interval": "sync.token_refresh_interval",
	"sync_cleanup_hour_utc":       "sync.cleanup_hour_utc",
	"usage_retention":             "sync.usage_retention",
	"event_retention":             "sync.event_retention",
	"job_retention":               "sync.job_retention",

	// Monitor and alerts
	"topup_cooldown":               "monitor.topup_cooldown",
	"default_topup_volume":         "monitor.default_topup_volume",
	"default_threshold_percentage": "monitor.default_threshold_percentage",
	"alert_webhook_url":            "alert.webhook_url",
	"alert_webhook_timeout":        "alert.webhook_timeout",
	"alert_webhook_max_retries":    "alert.webhook_max_retries",

	// Storage
	"kv_backend":              "kv.backend",
	"redis_url":               "kv.redis_url",
	"badger_path":             "kv.badger_path",
	"kv_key_prefix":           "kv.key_prefix",
	"database_driver":         "database.driver",
	"database_dsn":            "database.dsn",
	"database_max_open_conns": "database.max_open_conns",

	// Server
	"http_host":           "server.host",
	"http_port":           "server.port",
	"http_timeout":        "server.timeout",
	"rate_limit_requests": "server.rate_limit_reqs",
	"rate_limit_window":   "server.rate_limit_window",
	"cors_origins":        "server.cors_origins",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable name to a koanf path.
// Unmapped variables return "" and are ignored.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// listKeys are comma-separated in the environment.
var listKeys = map[string]bool{
	"server.cors_origins": true,
}

func envTransformValue(key, value string) (string, any) {
	path := envTransformFunc(key)
	if path == "" || !listKeys[path] {
		return path, value
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return path, items
}
