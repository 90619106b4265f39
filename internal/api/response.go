// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/simsync/internal/apierr"
	"github.com/tomtom215/simsync/internal/logging"
	"github.com/tomtom215/simsync/internal/store"
	syncpkg "github.com/tomtom215/simsync/internal/sync"
)

// APIResponse is the standardized response wrapper for all API endpoints.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *APIMeta  `json:"meta,omitempty"`
}

// APIError represents an error response.
type APIError struct {
	// Code is a machine-readable error code
	Code string `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`

	// Field names the offending input for validation errors
	Field string `json:"field,omitempty"`

	// RetryAfterSeconds is set for rate limit errors
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

// APIMeta contains response metadata.
type APIMeta struct {
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	DurationMs    int64     `json:"duration_ms"`
	Count         *int      `json:"count,omitempty"`
}

// Error codes that have no apierr equivalent.
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeTooManyRequests  = "TOO_MANY_REQUESTS"
	ErrCodeServiceUnhealthy = "SERVICE_UNAVAILABLE"
)

// ResponseWriter writes envelope responses for one request.
type ResponseWriter struct {
	w         http.ResponseWriter
	r         *http.Request
	startTime time.Time
}

// NewResponseWriter creates a new response writer.
func NewResponseWriter(w http.ResponseWriter, r *http.Request) *ResponseWriter {
	return &ResponseWriter{w: w, r: r, startTime: time.Now()}
}

func (rw *ResponseWriter) meta() *APIMeta {
	return &APIMeta{
		CorrelationID: logging.CorrelationIDFromContext(rw.r.Context()),
		Timestamp:     time.Now().UTC(),
		DurationMs:    time.Since(rw.startTime).Milliseconds(),
	}
}

// Success writes a 200 response with data.
func (rw *ResponseWriter) Success(data any) {
	rw.JSON(http.StatusOK, data)
}

// List writes a 200 response with data and its item count.
func (rw *ResponseWriter) List(data any, count int) {
	meta := rw.meta()
	meta.Count = &count
	rw.writeJSON(http.StatusOK, APIResponse{Success: true, Data: data, Meta: meta})
}

// JSON writes a successful response with the given status.
func (rw *ResponseWriter) JSON(status int, data any) {
	rw.writeJSON(status, APIResponse{Success: true, Data: data, Meta: rw.meta()})
}

// Error writes an error response.
func (rw *ResponseWriter) Error(status int, apiErr *APIError) {
	rw.writeJSON(status, APIResponse{Success: false, Error: apiErr, Meta: rw.meta()})
}

// BadRequest writes a 400 error.
func (rw *ResponseWriter) BadRequest(message string) {
	rw.Error(http.StatusBadRequest, &APIError{Code: ErrCodeBadRequest, Message: message})
}

// NotFound writes a 404 error.
func (rw *ResponseWriter) NotFound(message string) {
	rw.Error(http.StatusNotFound, &APIError{Code: ErrCodeNotFound, Message: message})
}

// Fail maps err to a status and a stable code and writes it. Unclassified
// errors are logged and reported as internal errors without their text.
func (rw *ResponseWriter) Fail(err error) {
	status, apiErr := classify(err)
	if status >= http.StatusInternalServerError {
		logging.Ctx(rw.r.Context()).Error().Err(err).
			Str("path", rw.r.URL.Path).
			Str("code", apiErr.Code).
			Msg("Request failed")
	}
	if apiErr.RetryAfterSeconds > 0 {
		rw.w.Header().Set("Retry-After", strconv.Itoa(apiErr.RetryAfterSeconds))
	}
	rw.Error(status, apiErr)
}

func classify(err error) (int, *APIError) {
	switch {
	case errors.Is(err, syncpkg.ErrJobAlreadyRunning):
		return http.StatusConflict, &APIError{Code: ErrCodeConflict, Message: "a run of this job is already in progress"}
	case errors.Is(err, syncpkg.ErrJobNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, &APIError{Code: ErrCodeNotFound, Message: "resource not found"}
	case errors.Is(err, syncpkg.ErrSchedulerDisabled):
		return http.StatusServiceUnavailable, &APIError{Code: ErrCodeServiceUnhealthy, Message: "scheduler is not running"}
	}

	code := apierr.Code(err)
	switch code {
	case apierr.CodeValidation:
		var ve *apierr.ValidationError
		errors.As(err, &ve)
		return http.StatusBadRequest, &APIError{Code: code, Message: ve.Reason, Field: ve.Field}
	case apierr.CodeRateLimited:
		var rl *apierr.RateLimitError
		errors.As(err, &rl)
		return http.StatusTooManyRequests, &APIError{
			Code:              code,
			Message:           "provider rate limit exceeded",
			RetryAfterSeconds: int(math.Ceil(rl.RetryAfter.Seconds())),
		}
	case apierr.CodeCircuitOpen, apierr.CodeRefreshTimeout:
		return http.StatusServiceUnavailable, &APIError{Code: code, Message: "provider temporarily unavailable"}
	case apierr.CodeAuth:
		return http.StatusBadGateway, &APIError{Code: code, Message: "provider rejected our credentials"}
	case apierr.CodeUpstream:
		var up *apierr.UpstreamError
		if errors.As(err, &up) && up.StatusCode == http.StatusNotFound {
			return http.StatusNotFound, &APIError{Code: ErrCodeNotFound, Message: "not found at provider"}
		}
		return http.StatusBadGateway, &APIError{Code: code, Message: "provider request failed"}
	default:
		return http.StatusInternalServerError, &APIError{Code: apierr.CodeInternal, Message: "internal error"}
	}
}

func (rw *ResponseWriter) writeJSON(status int, body APIResponse) {
	rw.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.w.WriteHeader(status)
	if err := json.NewEncoder(rw.w).Encode(body); err != nil {
		logging.Ctx(rw.r.Context()).Error().Err(err).Msg("Failed to encode JSON response")
	}
}
