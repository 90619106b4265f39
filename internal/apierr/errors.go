// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

// Package apierr defines the error taxonomy shared by the token manager, the
// request executor, the provider client and the sync orchestrator.
//
// Callers match classes with errors.As:
//
//	var rl *apierr.RateLimitError
//	if errors.As(err, &rl) {
//	    wait(rl.RetryAfter)
//	}
//
// Code maps any error to a stable machine-readable code for the HTTP layer.
package apierr

import (
	"errors"
	"fmt"
	"time"
)

// Stable error codes surfaced to API consumers.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeAuth           = "AUTH_ERROR"
	CodeRateLimited    = "RATE_LIMITED"
	CodeUpstream       = "UPSTREAM_ERROR"
	CodeCircuitOpen    = "CIRCUIT_OPEN"
	CodeRefreshTimeout = "REFRESH_TIMEOUT"
	CodeInternal       = "INTERNAL_ERROR"
)

// ValidationError reports bad input detected before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidation builds a ValidationError.
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// AuthError reports a rejected token exchange or a 401 that survived a
// forced token refresh.
type AuthError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *AuthError) Error() string {
	msg := "provider authentication failed"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError reports a 429 that was still returned after the retry budget
// was spent. RetryAfter is zero when the provider sent no hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider rate limit exceeded (retry after %s)", e.RetryAfter)
	}
	return "provider rate limit exceeded"
}

// UpstreamError reports a provider-side failure: a network error, a 5xx, or a
// client error status the executor does not retry.
type UpstreamError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return "provider unreachable: " + e.Err.Error()
	case e.Message != "":
		return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("provider returned HTTP %d", e.StatusCode)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed. Network errors and
// 5xx are transient; other statuses are deterministic client errors.
func (e *UpstreamError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// CircuitOpenError is returned without a network attempt while the breaker
// for Class is open, or while its single half-open trial is in flight.
type CircuitOpenError struct {
	Class string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for endpoint class %q", e.Class)
}

// RefreshTimeoutError is returned when another replica held the token refresh
// lease for longer than the polling budget.
type RefreshTimeoutError struct {
	Waited time.Duration
}

func (e *RefreshTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for concurrent token refresh", e.Waited)
}

// IsRetryable reports whether the executor may attempt the call again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var up *UpstreamError
	if errors.As(err, &up) {
		return up.Retryable()
	}
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// Code returns the stable code for err.
func Code(err error) string {
	var (
		ve *ValidationError
		ae *AuthError
		rl *RateLimitError
		up *UpstreamError
		co *CircuitOpenError
		rt *RefreshTimeoutError
	)
	switch {
	case errors.As(err, &ve):
		return CodeValidation
	case errors.As(err, &ae):
		return CodeAuth
	case errors.As(err, &rl):
		return CodeRateLimited
	case errors.As(err, &co):
		return CodeCircuitOpen
	case errors.As(err, &rt):
		return CodeRefreshTimeout
	case errors.As(err, &up):
		return CodeUpstream
	default:
		return CodeInternal
	}
}
