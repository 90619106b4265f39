// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package store

// schemaStatements returns DDL portable across SQLite, PostgreSQL and DuckDB.
// Timestamps are unix milliseconds and booleans are 0/1 integers.
func schemaStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS sims (
			iccid TEXT PRIMARY KEY,
			imsi TEXT NOT NULL DEFAULT '',
			msisdn TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			label TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL DEFAULT '',
			imei TEXT NOT NULL DEFAULT '',
			last_synced_at BIGINT NOT NULL,
			missing_since BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS usage_samples (
			iccid TEXT NOT NULL,
			ts BIGINT NOT NULL,
			volume_rx BIGINT NOT NULL DEFAULT 0,
			volume_tx BIGINT NOT NULL DEFAULT 0,
			total_volume BIGINT NOT NULL DEFAULT 0,
			sms_mo BIGINT NOT NULL DEFAULT 0,
			sms_mt BIGINT NOT NULL DEFAULT 0,
			synced_at BIGINT NOT NULL,
			PRIMARY KEY (iccid, ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_samples_ts ON usage_samples (ts)`,
		`CREATE TABLE IF NOT EXISTS quota_states (
			iccid TEXT NOT NULL,
			quota_type TEXT NOT NULL,
			total_volume BIGINT NOT NULL,
			used_volume BIGINT NOT NULL,
			remaining_volume BIGINT NOT NULL,
			threshold_percentage INTEGER NOT NULL DEFAULT 0,
			auto_reload INTEGER NOT NULL DEFAULT 0,
			last_volume_added BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT '',
			expiry_date BIGINT,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (iccid, quota_type)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_checkpoints (
			job_kind TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			position_ms BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (job_kind, entity_id)
		)`,
		`CREATE TABLE IF NOT EXISTS sim_events (
			id TEXT PRIMARY KEY,
			iccid TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_data TEXT NOT NULL DEFAULT '{}',
			ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sim_events_iccid_ts ON sim_events (iccid, ts)`,
		`CREATE TABLE IF NOT EXISTS sms_messages (
			id TEXT PRIMARY KEY,
			iccid TEXT NOT NULL,
			direction TEXT NOT NULL,
			message TEXT NOT NULL,
			destination TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			submitted_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS job_runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			started_at BIGINT NOT NULL,
			finished_at BIGINT,
			stats TEXT NOT NULL DEFAULT '{}',
			error_message TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_runs_started_at ON job_runs (started_at)`,
	}
}
