// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package config

import (
	"fmt"
	"strings"
)

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateProvider,
		c.validateToken,
		c.validateRetry,
		c.validateBreaker,
		c.validateSync,
		c.validateMonitor,
		c.validateAlert,
		c.validateStorage,
		c.validateServer,
		c.validateLogging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateProvider() error {
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("ONCE_BASE_URL is required")
	}
	if err := validateHTTPURL(c.Provider.BaseURL, "ONCE_BASE_URL"); err != nil {
		return err
	}
	if c.Provider.ClientID == "" || c.Provider.ClientSecret == "" {
		return fmt.Errorf("ONCE_CLIENT_ID and ONCE_CLIENT_SECRET are required")
	}
	if !strings.HasPrefix(c.Provider.TokenPath, "/") {
		return fmt.Errorf("ONCE_TOKEN_PATH must start with '/', got %q", c.Provider.TokenPath)
	}
	if c.Provider.CallTimeout <= 0 {
		return fmt.Errorf("PROVIDER_CALL_TIMEOUT must be positive")
	}
	if c.Provider.RateLimitPerSecond < 0 {
		return fmt.Errorf("PROVIDER_RATE_LIMIT must be >= 0")
	}
	if c.Provider.RateLimitPerSecond > 0 && c.Provider.RateLimitBurst < 1 {
		return fmt.Errorf("PROVIDER_RATE_BURST must be >= 1 when rate limiting is enabled")
	}
	if c.Provider.RecorderBuffer < 1 {
		return fmt.Errorf("PROVIDER_RECORDER_QUEUE must be >= 1")
	}
	return nil
}

func (c *Config) validateToken() error {
	t := c.Token
	if t.SafetyMargin < 0 {
		return fmt.Errorf("TOKEN_SAFETY_MARGIN must be >= 0")
	}
	if t.LockTTL <= 0 {
		return fmt.Errorf("TOKEN_LOCK_TTL must be positive")
	}
	if t.PollAttempts < 1 || t.PollInitialDelay <= 0 {
		return fmt.Errorf("TOKEN_POLL_ATTEMPTS must be >= 1 and TOKEN_POLL_INITIAL_DELAY positive")
	}
	if t.PreRefreshThreshold <= t.SafetyMargin {
		return fmt.Errorf("TOKEN_PRE_REFRESH_THRESHOLD (%s) must exceed TOKEN_SAFETY_MARGIN (%s)",
			t.PreRefreshThreshold, t.SafetyMargin)
	}
	if t.DefaultTTL <= t.SafetyMargin {
		return fmt.Errorf("TOKEN_DEFAULT_TTL must exceed TOKEN_SAFETY_MARGIN")
	}
	if t.FatalAfter < 1 {
		return fmt.Errorf("TOKEN_FATAL_AFTER must be >= 1")
	}
	return nil
}

func (c *Config) validateRetry() error {
	r := c.Retry
	if r.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1, got %d", r.MaxAttempts)
	}
	if r.BaseDelay <= 0 || r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("RETRY_BASE_DELAY must be positive and <= RETRY_MAX_DELAY")
	}
	if r.Multiplier < 1 {
		return fmt.Errorf("RETRY_MULTIPLIER must be >= 1, got %v", r.Multiplier)
	}
	if r.JitterFactor < 0 || r.JitterFactor > r.Multiplier-1 {
		return fmt.Errorf("RETRY_JITTER must be in [0, multiplier-1] so delays never decrease")
	}
	return nil
}

func (c *Config) validateBreaker() error {
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be >= 1")
	}
	if c.Breaker.CoolDown <= 0 {
		return fmt.Errorf("BREAKER_COOL_DOWN must be positive")
	}
	if c.Breaker.Interval < 0 {
		return fmt.Errorf("BREAKER_INTERVAL must be >= 0")
	}
	return nil
}

func (c *Config) validateSync() error {
	s := c.Sync
	if s.Concurrency < 1 {
		return fmt.Errorf("SYNC_CONCURRENCY must be >= 1, got %d", s.Concurrency)
	}
	if s.JobTimeout <= 0 {
		return fmt.Errorf("SYNC_JOB_TIMEOUT must be positive")
	}
	if s.PageSize < 1 || s.PageSize > 1000 {
		return fmt.Errorf("SYNC_PAGE_SIZE must be between 1 and 1000, got %d", s.PageSize)
	}
	if s.InitialLookback <= 0 {
		return fmt.Errorf("SYNC_INITIAL_LOOKBACK must be positive")
	}
	intervals := map[string]int64{
		"SYNC_INVENTORY_INTERVAL":     int64(s.InventoryInterval),
		"SYNC_USAGE_INTERVAL":         int64(s.UsageInterval),
		"SYNC_QUOTA_INTERVAL":         int64(s.QuotaInterval),
		"SYNC_TOKEN_REFRESH_INTERVAL": int64(s.TokenRefreshInterval),
	}
	for name, v := range intervals {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if s.CleanupHourUTC < 0 || s.CleanupHourUTC > 23 {
		return fmt.Errorf("SYNC_CLEANUP_HOUR_UTC must be between 0 and 23, got %d", s.CleanupHourUTC)
	}
	if s.UsageRetention <= 0 || s.EventRetention <= 0 || s.JobRetention <= 0 {
		return fmt.Errorf("USAGE_RETENTION, EVENT_RETENTION and JOB_RETENTION must be positive")
	}
	return nil
}

func (c *Config) validateMonitor() error {
	if c.Monitor.TopUpCooldown <= 0 {
		return fmt.Errorf("TOPUP_COOLDOWN must be positive")
	}
	if c.Monitor.DefaultTopUpVolume < 0 {
		return fmt.Errorf("DEFAULT_TOPUP_VOLUME must be >= 0")
	}
	if p := c.Monitor.DefaultThresholdPercentage; p < 0 || p > 100 {
		return fmt.Errorf("DEFAULT_THRESHOLD_PERCENTAGE must be between 0 and 100, got %d", p)
	}
	return nil
}

func (c *Config) validateAlert() error {
	if c.Alert.WebhookURL == "" {
		return nil
	}
	if err := validateHTTPURL(c.Alert.WebhookURL, "ALERT_WEBHOOK_URL"); err != nil {
		return err
	}
	if c.Alert.WebhookTimeout <= 0 {
		return fmt.Errorf("ALERT_WEBHOOK_TIMEOUT must be positive")
	}
	if c.Alert.WebhookMaxRetries < 0 {
		return fmt.Errorf("ALERT_WEBHOOK_MAX_RETRIES must be >= 0")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.KV.Backend {
	case "redis":
		if err := validateRedisURL(c.KV.RedisURL); err != nil {
			return err
		}
	case "badger":
		if c.KV.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH is required when KV_BACKEND=badger")
		}
	default:
		return fmt.Errorf("KV_BACKEND must be redis or badger, got %q", c.KV.Backend)
	}

	switch c.Database.Driver {
	case "sqlite", "postgres", "duckdb":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be sqlite, postgres or duckdb, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, disabled; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
}
