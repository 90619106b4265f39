// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/simsync/internal/models"
)

// InsertEvent appends a SIM event, assigning an ID when empty.
func (s *Store) InsertEvent(ctx context.Context, ev *models.SimEvent) (err error) {
	start := time.Now()
	defer func() { observe("insert", "sim_events", start, err) }()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	data := []byte("{}")
	if len(ev.Data) > 0 {
		if data, err = json.Marshal(ev.Data); err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
	}

	_, err = s.conn.ExecContext(ctx,
		s.q(`INSERT INTO sim_events (id, iccid, event_type, event_data, ts) VALUES (?, ?, ?, ?, ?)`),
		ev.ID, ev.ICCID, ev.EventType, string(data), toMillis(ev.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sim event: %w", err)
	}
	return nil
}

// MirrorEvents stores provider events for one SIM. Events the provider sent
// without an id get one derived from their ICCID, type and timestamp, so
// mirroring the same page twice inserts nothing the second time. It returns
// the number of new rows.
func (s *Store) MirrorEvents(ctx context.Context, events []models.SimEvent) (n int, err error) {
	start := time.Now()
	defer func() { observe("mirror", "sim_events", start, err) }()

	insert := s.q(`INSERT INTO sim_events (id, iccid, event_type, event_data, ts) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (id) DO NOTHING`)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for i := range events {
			ev := &events[i]
			if ev.ID == "" {
				ev.ID = providerEventID(ev)
			}
			data := []byte("{}")
			if len(ev.Data) > 0 {
				var merr error
				if data, merr = json.Marshal(ev.Data); merr != nil {
					return fmt.Errorf("marshal event data: %w", merr)
				}
			}
			res, err := tx.ExecContext(ctx, insert, ev.ID, ev.ICCID, ev.EventType, string(data), toMillis(ev.Timestamp))
			if err != nil {
				return fmt.Errorf("failed to mirror sim event %s: %w", ev.ID, err)
			}
			if affected, err := res.RowsAffected(); err == nil {
				n += int(affected)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func providerEventID(ev *models.SimEvent) string {
	name := fmt.Sprintf("%s|%s|%d", ev.ICCID, ev.EventType, toMillis(ev.Timestamp))
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// ListEvents returns the newest events for a SIM, up to limit.
func (s *Store) ListEvents(ctx context.Context, iccid string, limit int) ([]models.SimEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.QueryContext(ctx, s.q(`SELECT id, iccid, event_type, event_data, ts
	FROM sim_events WHERE iccid = ? ORDER BY ts DESC LIMIT ?`), iccid, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []models.SimEvent
	for rows.Next() {
		var (
			ev   models.SimEvent
			data string
			ts   int64
		)
		if err := rows.Scan(&ev.ID, &ev.ICCID, &ev.EventType, &data, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if data != "" && data != "{}" {
			if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		ev.Timestamp = fromMillis(ts)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RecordSMS stores an SMS accepted by the provider.
func (s *Store) RecordSMS(ctx context.Context, msg *models.SMSMessage) (err error) {
	start := time.Now()
	defer func() { observe("insert", "sms_messages", start, err) }()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err = s.conn.ExecContext(ctx, s.q(`INSERT INTO sms_messages (
		id, iccid, direction, message, destination, status, submitted_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.ICCID, msg.Direction, msg.Message, msg.Destination, msg.Status, toMillis(msg.SubmittedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record sms: %w", err)
	}
	return nil
}
