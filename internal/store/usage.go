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

	"github.com/tomtom215/simsync/internal/models"
)

// CommitUsage upserts samples for one SIM in timestamp order and advances the
// usage checkpoint to position. The checkpoint write is the last statement of
// the transaction, so a crash never leaves a checkpoint ahead of its data.
// Re-running the same window rewrites identical rows.
func (s *Store) CommitUsage(ctx context.Context, iccid string, samples []models.UsageSample, position time.Time) (err error) {
	start := time.Now()
	defer func() { observe("commit", "usage_samples", start, err) }()

	ordered := make([]models.UsageSample, len(samples))
	copy(ordered, samples)
	models.SortUsage(ordered)

	upsert := s.q(`INSERT INTO usage_samples (
		iccid, ts, volume_rx, volume_tx, total_volume, sms_mo, sms_mt, synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (iccid, ts) DO UPDATE SET
		volume_rx = excluded.volume_rx,
		volume_tx = excluded.volume_tx,
		total_volume = excluded.total_volume,
		sms_mo = excluded.sms_mo,
		sms_mt = excluded.sms_mt,
		synced_at = excluded.synced_at`)

	now := toMillis(time.Now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for i := range ordered {
			u := &ordered[i]
			if _, err := tx.ExecContext(ctx, upsert,
				iccid, toMillis(u.Timestamp), u.VolumeRx, u.VolumeTx, u.TotalVolume, u.SMSMO, u.SMSMT, now,
			); err != nil {
				return fmt.Errorf("failed to upsert usage sample %s@%s: %w", iccid, u.Timestamp.Format(time.RFC3339), err)
			}
		}
		return s.setCheckpoint(ctx, tx, models.Checkpoint{
			JobKind:   models.JobUsage,
			EntityID:  iccid,
			Position:  position,
			UpdatedAt: time.Now(),
		})
	})
}

// CountUsage returns the number of stored samples for a SIM.
func (s *Store) CountUsage(ctx context.Context, iccid string) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM usage_samples WHERE iccid = ?`), iccid).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}
	return n, nil
}

// ListUsage returns the stored samples of a SIM in timestamp order.
func (s *Store) ListUsage(ctx context.Context, iccid string) ([]models.UsageSample, error) {
	rows, err := s.conn.QueryContext(ctx, s.q(`SELECT
		iccid, ts, volume_rx, volume_tx, total_volume, sms_mo, sms_mt
	FROM usage_samples WHERE iccid = ? ORDER BY ts`), iccid)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	var out []models.UsageSample
	for rows.Next() {
		var (
			u  models.UsageSample
			ts int64
		)
		if err := rows.Scan(&u.ICCID, &ts, &u.VolumeRx, &u.VolumeTx, &u.TotalVolume, &u.SMSMO, &u.SMSMT); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		u.Timestamp = fromMillis(ts)
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetCheckpoint returns the stored position for a job kind and entity. The
// boolean is false when no checkpoint exists yet.
func (s *Store) GetCheckpoint(ctx context.Context, kind models.JobKind, entityID string) (time.Time, bool, error) {
	var pos int64
	err := s.conn.QueryRowContext(ctx,
		s.q(`SELECT position_ms FROM sync_checkpoints WHERE job_kind = ? AND entity_id = ?`),
		string(kind), entityID,
	).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return fromMillis(pos), true, nil
}

// SetCheckpoint writes a checkpoint outside a data transaction.
func (s *Store) SetCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.setCheckpoint(ctx, tx, cp)
	})
}

func (s *Store) setCheckpoint(ctx context.Context, tx *sql.Tx, cp models.Checkpoint) error {
	_, err := tx.ExecContext(ctx, s.q(`INSERT INTO sync_checkpoints (
		job_kind, entity_id, position_ms, updated_at
	) VALUES (?, ?, ?, ?)
	ON CONFLICT (job_kind, entity_id) DO UPDATE SET
		position_ms = excluded.position_ms,
		updated_at = excluded.updated_at`),
		string(cp.JobKind), cp.EntityID, toMillis(cp.Position), toMillis(cp.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to write checkpoint %s/%s: %w", cp.JobKind, cp.EntityID, err)
	}
	return nil
}
