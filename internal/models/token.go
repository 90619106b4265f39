// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package models

import "time"

// Token is the provider bearer credential shared by every replica through the
// KV cache. Version increases by one on every successful exchange.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Version     int64     `json:"version"`
}

// ValidAt reports whether the token may still be used at now, keeping margin
// in reserve before the provider-side expiry.
func (t *Token) ValidAt(now time.Time, margin time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return now.Before(t.ExpiresAt.Add(-margin))
}

// Remaining returns the lifetime left at now, never negative.
func (t *Token) Remaining(now time.Time) time.Duration {
	if t == nil {
		return 0
	}
	if d := t.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
