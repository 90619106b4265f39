// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

/*
Package metrics registers the Prometheus collectors for SIMSync.

Collectors are created with promauto and registered with the default registry,
which the API layer serves at /metrics through promhttp.

# Available Metrics

Provider Metrics:
  - simsync_provider_attempts_total: HTTP attempts (counter)
    Labels: class, outcome
  - simsync_provider_attempt_duration_seconds: attempt latency (histogram)
    Labels: class
  - simsync_provider_retries_total: calls retried after a transient failure
  - simsync_attempt_records_dropped_total: records lost to a full recorder queue

Token Metrics:
  - simsync_token_refreshes_total: token exchanges by result
  - simsync_token_remaining_seconds: lifetime left on the cached token

Sync Metrics:
  - simsync_job_runs_total: runs by kind and terminal state
  - simsync_job_duration_seconds: run duration by kind
  - simsync_job_skipped_total: scheduled ticks coalesced behind a running job
  - simsync_sim_failures_total: per-SIM failures isolated in a batch
  - simsync_records_upserted_total: rows written by jobs

Circuit Breaker Metrics:
  - circuit_breaker_state: 0=closed, 1=half-open, 2=open
    Labels: name (provider-<class>)
  - circuit_breaker_requests_total: Labels: name, result
  - circuit_breaker_consecutive_failures
  - circuit_breaker_state_transitions_total: Labels: name, from_state, to_state

# Usage

	metrics.RecordAttempt("usage", "success", 120*time.Millisecond)
	metrics.RecordJobRun("usage", "COMMITTED", elapsed, 1, 42)
*/
package metrics
