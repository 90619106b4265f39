// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

// Package main is the entry point for the SIMSync server.
//
// SIMSync mirrors a connectivity provider's SIM inventory, usage records and
// quota state into a local database, raises threshold alerts and performs
// automatic top-ups. Several replicas may run against the same shared KV
// store; token refreshes and job runs are coordinated through it.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: defaults, optional YAML file and environment (Koanf v2)
//  2. KV store: Redis for multi-replica deployments, BadgerDB for a single node
//  3. Database: SQLite, PostgreSQL or DuckDB mirror with schema migration
//  4. Token manager and request executor (retries, circuit breakers)
//  5. Provider client, alert sinks and threshold monitor
//  6. Sync orchestrator and one scheduled service per job kind
//  7. HTTP server: job triggers, job status, SIM reads, health and metrics
//
// Everything long-running is a suture service on the supervisor tree.
//
// # Configuration
//
// The only required settings are the provider credentials:
//
//	export ONCE_CLIENT_ID=...
//	export ONCE_CLIENT_SECRET=...
//	./simsync
//
// Multi-replica deployment with PostgreSQL and Redis:
//
//	export KV_BACKEND=redis
//	export REDIS_URL=redis://redis:6379/0
//	export DATABASE_DRIVER=postgres
//	export DATABASE_DSN=postgres://simsync:secret@db/simsync?sslmode=disable
//	./simsync
//
// # Signal Handling
//
// On SIGINT or SIGTERM the HTTP server stops accepting connections, job
// services stop scheduling, and in-flight job runs are drained before the
// database and KV store are closed.
package main
