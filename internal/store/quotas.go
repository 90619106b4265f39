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

// GetQuota returns the stored snapshot for a SIM quota or ErrNotFound.
func (s *Store) GetQuota(ctx context.Context, iccid string, qt models.QuotaType) (*models.QuotaState, error) {
	var (
		q          models.QuotaState
		quotaType  string
		autoReload int
		expiry     sql.NullInt64
		updated    int64
	)
	err := s.conn.QueryRowContext(ctx, s.q(`SELECT
		iccid, quota_type, total_volume, used_volume, remaining_volume,
		threshold_percentage, auto_reload, last_volume_added, status, expiry_date, updated_at
	FROM quota_states WHERE iccid = ? AND quota_type = ?`), iccid, string(qt)).Scan(
		&q.ICCID, &quotaType, &q.Total, &q.Used, &q.Remaining,
		&q.ThresholdPercentage, &autoReload, &q.LastVolumeAdded, &q.Status, &expiry, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read quota %s/%s: %w", iccid, qt, err)
	}
	q.Type = models.QuotaType(quotaType)
	q.AutoReload = autoReload != 0
	q.ExpiryDate = timePtr(expiry)
	q.UpdatedAt = fromMillis(updated)
	return &q, nil
}

// UpsertQuota stores a quota snapshot. States violating
// Remaining == Total - Used >= 0 are refused.
func (s *Store) UpsertQuota(ctx context.Context, q *models.QuotaState) (err error) {
	start := time.Now()
	defer func() { observe("upsert", "quota_states", start, err) }()

	if err := q.Validate(); err != nil {
		return err
	}

	_, err = s.conn.ExecContext(ctx, s.q(`INSERT INTO quota_states (
		iccid, quota_type, total_volume, used_volume, remaining_volume,
		threshold_percentage, auto_reload, last_volume_added, status, expiry_date, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (iccid, quota_type) DO UPDATE SET
		total_volume = excluded.total_volume,
		used_volume = excluded.used_volume,
		remaining_volume = excluded.remaining_volume,
		threshold_percentage = excluded.threshold_percentage,
		auto_reload = excluded.auto_reload,
		last_volume_added = excluded.last_volume_added,
		status = excluded.status,
		expiry_date = excluded.expiry_date,
		updated_at = excluded.updated_at`),
		q.ICCID, string(q.Type), q.Total, q.Used, q.Remaining,
		q.ThresholdPercentage, boolInt(q.AutoReload), q.LastVolumeAdded, q.Status,
		nullMillis(q.ExpiryDate), toMillis(q.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert quota %s/%s: %w", q.ICCID, q.Type, err)
	}
	return nil
}
