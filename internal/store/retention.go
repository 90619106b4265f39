// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package store

import (
	"context"
	"fmt"
	"time"
)

// DeleteUsageBefore removes usage samples older than cutoff.
func (s *Store) DeleteUsageBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, "usage_samples", "ts", cutoff)
}

// DeleteEventsBefore removes SIM events older than cutoff.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, "sim_events", "ts", cutoff)
}

// DeleteJobRunsBefore removes finished job runs started before cutoff.
func (s *Store) DeleteJobRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	start := time.Now()
	res, err := s.conn.ExecContext(ctx,
		s.q(`DELETE FROM job_runs WHERE started_at < ? AND state <> 'RUNNING'`), toMillis(cutoff))
	observe("delete", "job_runs", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to delete job runs: %w", err)
	}
	return res.RowsAffected()
}

// table and column are package constants, never caller input.
func (s *Store) deleteBefore(ctx context.Context, table, column string, cutoff time.Time) (int64, error) {
	start := time.Now()
	query := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", table, column) //nolint:gosec
	res, err := s.conn.ExecContext(ctx, s.q(query), toMillis(cutoff))
	observe("delete", table, start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return res.RowsAffected()
}
