// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/simsync/internal/models"
)

// CreateJobRun persists a new run, normally in state RUNNING.
func (s *Store) CreateJobRun(ctx context.Context, run *models.JobStatus) error {
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("marshal job stats: %w", err)
	}
	_, err = s.conn.ExecContext(ctx, s.q(`INSERT INTO job_runs (
		id, kind, state, started_at, finished_at, stats, error_message
	) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		run.ID, string(run.Kind), string(run.State), toMillis(run.StartedAt),
		nullMillis(run.FinishedAt), string(stats), run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to create job run %s: %w", run.ID, err)
	}
	return nil
}

// FinishJobRun moves a run to a terminal state with its final stats.
func (s *Store) FinishJobRun(ctx context.Context, id string, state models.JobState, finishedAt time.Time, stats models.JobStats, errMsg string) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal job stats: %w", err)
	}
	res, err := s.conn.ExecContext(ctx, s.q(`UPDATE job_runs
	SET state = ?, finished_at = ?, stats = ?, error_message = ?
	WHERE id = ?`),
		string(state), toMillis(finishedAt), string(data), errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetJobRun returns a run by ID or ErrNotFound.
func (s *Store) GetJobRun(ctx context.Context, id string) (*models.JobStatus, error) {
	var (
		run      models.JobStatus
		kind     string
		state    string
		started  int64
		finished sql.NullInt64
		stats    string
	)
	err := s.conn.QueryRowContext(ctx, s.q(`SELECT
		id, kind, state, started_at, finished_at, stats, error_message
	FROM job_runs WHERE id = ?`), id).Scan(&run.ID, &kind, &state, &started, &finished, &stats, &run.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job run %s: %w", id, err)
	}
	run.Kind = models.JobKind(kind)
	run.State = models.JobState(state)
	run.StartedAt = fromMillis(started)
	run.FinishedAt = timePtr(finished)
	if stats != "" {
		if err := json.Unmarshal([]byte(stats), &run.Stats); err != nil {
			return nil, fmt.Errorf("failed to decode job stats: %w", err)
		}
	}
	return &run, nil
}

// ExpireJobRuns fails RUNNING runs started before cutoff. Their owner
// crashed or lost the lease; the lease TTL equals the job deadline, so no
// live run can be that old.
func (s *Store) ExpireJobRuns(ctx context.Context, cutoff, at time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx, s.q(`UPDATE job_runs
	SET state = ?, finished_at = ?, error_message = ?
	WHERE state = ? AND started_at < ?`),
		string(models.JobFailed), toMillis(at), "abandoned: run exceeded its deadline without finishing",
		string(models.JobRunning), toMillis(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire job runs: %w", err)
	}
	return res.RowsAffected()
}
