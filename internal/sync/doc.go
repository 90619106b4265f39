// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

/*
Package sync runs the scheduled jobs that mirror provider state into the
local store.

Job kinds:

  - inventory: pages the provider SIM listing, upserts every SIM and flags
    SIMs that vanished from a complete listing
  - usage: fetches each active SIM's usage since its checkpoint and commits
    samples and checkpoint in one transaction
  - quota: refreshes data and SMS quotas and hands consecutive snapshots to
    the threshold monitor
  - token_refresh: refreshes the shared bearer token ahead of expiry
  - cleanup: applies retention windows and fails abandoned runs

Overlap:

A run holds its kind's lease in the shared KV store for its whole duration.
Scheduled ticks that find the lease taken are skipped and counted; manual
triggers get ErrJobAlreadyRunning.

Batches:

Per-SIM work runs through an errgroup bounded by sync.concurrency. A failing
SIM is recorded in the run's stats and never aborts the batch. Once the job
deadline passes no new SIM is admitted; in-flight SIMs get one call timeout
of grace.

Single SIM:

SyncSIM, SyncSIMUsage and SyncSIMEvents refresh one SIM on demand. They take
no lease; every write they make is an idempotent upsert.

Scheduling:

Each kind is a JobService supervised by suture, so a panicking job is
restarted without affecting the others. Scheduler reports each service's
next and last run.
*/
package sync
