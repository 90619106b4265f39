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

// UpsertSIM inserts or refreshes a SIM by ICCID. A SIM seen again loses its
// missing flag.
func (s *Store) UpsertSIM(ctx context.Context, sim *models.SimRecord) (err error) {
	start := time.Now()
	defer func() { observe("upsert", "sims", start, err) }()

	query := s.q(`INSERT INTO sims (
		iccid, imsi, msisdn, status, label, ip_address, imei, last_synced_at, missing_since
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)
	ON CONFLICT (iccid) DO UPDATE SET
		imsi = excluded.imsi,
		msisdn = excluded.msisdn,
		status = excluded.status,
		label = excluded.label,
		ip_address = excluded.ip_address,
		imei = excluded.imei,
		last_synced_at = excluded.last_synced_at,
		missing_since = NULL`)

	_, err = s.conn.ExecContext(ctx, query,
		sim.ICCID, sim.IMSI, sim.MSISDN, sim.Status, sim.Label, sim.IPAddress, sim.IMEI,
		toMillis(sim.LastSyncedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sim %s: %w", sim.ICCID, err)
	}
	return nil
}

// FlagMissingSIMs marks every SIM not synced since syncedBefore as missing
// at the given time. Already flagged SIMs keep their original timestamp.
// Rows are never deleted.
func (s *Store) FlagMissingSIMs(ctx context.Context, syncedBefore, at time.Time) (n int, err error) {
	start := time.Now()
	defer func() { observe("flag_missing", "sims", start, err) }()

	res, err := s.conn.ExecContext(ctx,
		s.q(`UPDATE sims SET missing_since = ? WHERE last_synced_at < ? AND missing_since IS NULL`),
		toMillis(at), toMillis(syncedBefore),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to flag missing sims: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count flagged sims: %w", err)
	}
	return int(affected), nil
}

// ListActiveSIMs returns SIMs eligible for usage and quota sync, ordered by ICCID.
func (s *Store) ListActiveSIMs(ctx context.Context) (sims []models.SimRecord, err error) {
	start := time.Now()
	defer func() { observe("select", "sims", start, err) }()

	rows, err := s.conn.QueryContext(ctx, s.q(`SELECT
		iccid, imsi, msisdn, status, label, ip_address, imei, last_synced_at, missing_since
	FROM sims
	WHERE status IN (?, ?) AND missing_since IS NULL
	ORDER BY iccid`), models.SimStatusActive, models.SimStatusEnabled)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sims: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		sim, err := scanSIM(rows)
		if err != nil {
			return nil, err
		}
		sims = append(sims, *sim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sims: %w", err)
	}
	return sims, nil
}

// GetSIM returns one SIM or ErrNotFound.
func (s *Store) GetSIM(ctx context.Context, iccid string) (*models.SimRecord, error) {
	row := s.conn.QueryRowContext(ctx, s.q(`SELECT
		iccid, imsi, msisdn, status, label, ip_address, imei, last_synced_at, missing_since
	FROM sims WHERE iccid = ?`), iccid)
	sim, err := scanSIM(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sim, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSIM(row rowScanner) (*models.SimRecord, error) {
	var (
		sim     models.SimRecord
		synced  int64
		missing sql.NullInt64
	)
	if err := row.Scan(&sim.ICCID, &sim.IMSI, &sim.MSISDN, &sim.Status, &sim.Label,
		&sim.IPAddress, &sim.IMEI, &synced, &missing); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sim: %w", err)
	}
	sim.LastSyncedAt = fromMillis(synced)
	sim.MissingSince = timePtr(missing)
	return &sim, nil
}
