// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Outbound provider metrics
	ProviderAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simsync_provider_attempts_total",
			Help: "Total number of HTTP attempts made against the connectivity provider",
		},
		[]string{"class", "outcome"}, // outcome: "success", "client_error", "unauthorized", "rate_limited", "server_error", "network_error"
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "simsync_provider_attempt_duration_seconds",
			Help:    "Latency of single provider HTTP attempts in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"class"},
	)

	ProviderRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simsync_provider_retries_total",
			Help: "Total number of provider calls that were retried after a transient failure",
		},
		[]string{"class"},
	)

	AttemptRecordsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "simsync_attempt_records_dropped_total",
			Help: "Attempt records dropped because the recorder queue was full",
		},
	)

	// Token metrics
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simsync_token_refreshes_total",
			Help: "Total number of OAuth2 token exchanges",
		},
		[]string{"result"}, // result: "success", "auth_error", "upstream_error", "lease_timeout"
	)

	TokenRemainingSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "simsync_token_remaining_seconds",
			Help: "Remaining lifetime of the cached provider token",
		},
	)

	// Sync job metrics
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simsync_job_runs_total",
			Help: "Total number of sync job runs by terminal state",
		},
		[]string{"kind", "state"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "simsync_job_duration_seconds",
			Help:    "Duration of sync job runs in seconds",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600}, // jobs can take minutes
		},
		[]string{"kind"},
	)

	JobSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simsync_job_skipped_total",
			Help: "Scheduled job ticks skipped because a run of the same kind held the lease",
		},
		[]string{"kind"},
	)

	JobLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "simsync_job_last_success_timestamp",
			Help: "Unix timestamp of the last committed run per job kind",
		},
		[]string{"kind"},
	)

	SimFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simsync_sim_failures_total",
			Help: "Per-SIM failures isolated inside a sync batch",
		},
		[]string{"kind"},
	)

	RecordsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simsync_records_upserted_total",
			Help: "Rows written by sync jobs",
		},
		[]string{"kind"},
	)

	// Threshold monitor metrics
	ThresholdEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simsync_threshold_events_total",
			Help: "Quota events emitted by the threshold monitor",
		},
		[]string{"kind", "quota_type"},
	)

	AlertDeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simsync_alert_delivery_failures_total",
			Help: "Events that an alert sink failed to deliver",
		},
		[]string{"sink"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Inbound API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Store metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query execution time in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_query_errors_total",
			Help: "Total number of failed database operations",
		},
		[]string{"operation", "table"},
	)
)

// RecordAttempt records one outbound provider attempt.
func RecordAttempt(class, outcome string, latency time.Duration) {
	ProviderAttempts.WithLabelValues(class, outcome).Inc()
	ProviderLatency.WithLabelValues(class).Observe(latency.Seconds())
}

// RecordTokenRefresh records a token exchange result.
func RecordTokenRefresh(result string) {
	TokenRefreshes.WithLabelValues(result).Inc()
}

// RecordJobRun records a finished sync job run.
func RecordJobRun(kind, state string, duration time.Duration, simFailures, upserted int) {
	JobRuns.WithLabelValues(kind, state).Inc()
	JobDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if simFailures > 0 {
		SimFailures.WithLabelValues(kind).Add(float64(simFailures))
	}
	if upserted > 0 {
		RecordsUpserted.WithLabelValues(kind).Add(float64(upserted))
	}
	if state == "COMMITTED" {
		JobLastSuccess.WithLabelValues(kind).Set(float64(time.Now().Unix()))
	}
}

// RecordThresholdEvent records an event emitted by the threshold monitor.
func RecordThresholdEvent(kind, quotaType string) {
	ThresholdEvents.WithLabelValues(kind, quotaType).Inc()
}

// RecordDBQuery records a database operation.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an inbound API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
