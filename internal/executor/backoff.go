// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package executor

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/simsync/internal/config"
)

// backoffDelay returns the wait after failed attempt n (1-based):
// min(MaxDelay, BaseDelay * Multiplier^(n-1) * (1 + r*JitterFactor)) with r
// in [0, 1). With JitterFactor <= Multiplier-1 the sequence never decreases.
func backoffDelay(cfg config.RetryConfig, n int, r float64) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(n-1)) * (1 + r*cfg.JitterFactor)
	if cfg.MaxDelay > 0 && d > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(d)
}

// parseRetryAfter reads a Retry-After header given as delta-seconds or an
// HTTP date. The boolean is false when the header is absent or malformed.
func parseRetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
