// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

/*
Package models defines the data structures shared by the provider client, the
store, the sync orchestrator and the HTTP API.

Key Components:

  - SimRecord, SimPage, Connectivity: provider SIM inventory and network state
  - UsageSample, Window, Checkpoint: usage deltas and the per-SIM sync position
  - QuotaState: data or SMS allowance with its Remaining = Total - Used invariant
  - ThresholdEvent: alerts raised by the threshold monitor
  - Token: cached bearer token with its expiry
  - JobStatus, JobStats: job run lifecycle and counters
  - ScheduledJob, SchedulerStatus: next run and last run per scheduled job
  - SimSyncResult: outcome of an on-demand single SIM refresh

JSON tags follow the provider's wire names where a model crosses the provider
boundary, so the same types decode provider payloads and encode API responses.
*/
package models
