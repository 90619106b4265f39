// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

// Package config loads SIMSync configuration with Koanf v2.
//
// Sources are layered, highest priority last:
//  1. Built-in defaults (defaultConfig)
//  2. Optional YAML file (CONFIG_PATH, ./config.yaml, /etc/simsync/config.yaml)
//  3. Environment variables (see envMappings in koanf.go)
//
// Every retry, breaker, token and scheduling constant is configurable; the
// defaults are the values the provider integration was tuned with.
package config

import "time"

// Config holds the complete SIMSync configuration.
type Config struct {
	Provider ProviderConfig `koanf:"provider"`
	Token    TokenConfig    `koanf:"token"`
	Retry    RetryConfig    `koanf:"retry"`
	Breaker  BreakerConfig  `koanf:"breaker"`
	Sync     SyncConfig     `koanf:"sync"`
	Monitor  MonitorConfig  `koanf:"monitor"`
	Alert    AlertConfig    `koanf:"alert"`
	KV       KVConfig       `koanf:"kv"`
	Database DatabaseConfig `koanf:"database"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ProviderConfig describes the connectivity provider REST API.
type ProviderConfig struct {
	BaseURL      string `koanf:"base_url"`
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	TokenPath    string `koanf:"token_path"`

	// CallTimeout bounds every single outbound HTTP attempt.
	CallTimeout time.Duration `koanf:"call_timeout"`

	// RateLimitPerSecond paces outbound attempts; 0 disables pacing.
	RateLimitPerSecond float64 `koanf:"rate_limit_per_second"`
	RateLimitBurst     int     `koanf:"rate_limit_burst"`

	// RecorderBuffer is the capacity of the non-blocking attempt record queue.
	RecorderBuffer int `koanf:"recorder_buffer"`
}

// TokenConfig controls bearer token caching and refresh.
type TokenConfig struct {
	SafetyMargin        time.Duration `koanf:"safety_margin"`
	LockTTL             time.Duration `koanf:"lock_ttl"`
	PollAttempts        int           `koanf:"poll_attempts"`
	PollInitialDelay    time.Duration `koanf:"poll_initial_delay"`
	PreRefreshThreshold time.Duration `koanf:"pre_refresh_threshold"`
	DefaultTTL          time.Duration `koanf:"default_ttl"`

	// FatalAfter is the number of consecutive pre-refresh failures after
	// which an auth failure alert is raised.
	FatalAfter int `koanf:"fatal_after"`
}

// RetryConfig is the executor's retry policy.
type RetryConfig struct {
	MaxAttempts  int           `koanf:"max_attempts"`
	BaseDelay    time.Duration `koanf:"base_delay"`
	Multiplier   float64       `koanf:"multiplier"`
	MaxDelay     time.Duration `koanf:"max_delay"`
	JitterFactor float64       `koanf:"jitter_factor"`
}

// BreakerConfig is applied to every endpoint-class circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold"`
	CoolDown         time.Duration `koanf:"cool_down"`
	Interval         time.Duration `koanf:"interval"`
}

// SyncConfig controls the orchestrator and its schedule.
type SyncConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Concurrency     int           `koanf:"concurrency"`
	JobTimeout      time.Duration `koanf:"job_timeout"`
	PageSize        int           `koanf:"page_size"`
	InitialLookback time.Duration `koanf:"initial_lookback"`
	RunOnStartup    bool          `koanf:"run_on_startup"`

	InventoryInterval    time.Duration `koanf:"inventory_interval"`
	UsageInterval        time.Duration `koanf:"usage_interval"`
	QuotaInterval        time.Duration `koanf:"quota_interval"`
	TokenRefreshInterval time.Duration `koanf:"token_refresh_interval"`
	CleanupHourUTC       int           `koanf:"cleanup_hour_utc"`

	UsageRetention time.Duration `koanf:"usage_retention"`
	EventRetention time.Duration `koanf:"event_retention"`
	JobRetention   time.Duration `koanf:"job_retention"`
}

// MonitorConfig controls threshold evaluation and auto top-up.
type MonitorConfig struct {
	TopUpCooldown      time.Duration `koanf:"topup_cooldown"`
	DefaultTopUpVolume int64         `koanf:"default_topup_volume"`

	// DefaultThresholdPercentage applies when the provider reports none.
	DefaultThresholdPercentage int `koanf:"default_threshold_percentage"`
}

// AlertConfig configures threshold event sinks.
type AlertConfig struct {
	WebhookURL        string        `koanf:"webhook_url"`
	WebhookTimeout    time.Duration `koanf:"webhook_timeout"`
	WebhookMaxRetries int           `koanf:"webhook_max_retries"`
}

// KVConfig selects the shared key-value store used for the token cache,
// leases and debounce keys.
type KVConfig struct {
	// Backend is "redis" (multi-replica) or "badger" (single node).
	Backend    string `koanf:"backend"`
	RedisURL   string `koanf:"redis_url"`
	BadgerPath string `koanf:"badger_path"`
	KeyPrefix  string `koanf:"key_prefix"`
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	// Driver is "sqlite", "postgres" or "duckdb".
	Driver       string `koanf:"driver"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	// CORSOrigins lists browser origins allowed to call the API. Empty
	// disables CORS handling.
	CORSOrigins []string `koanf:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
