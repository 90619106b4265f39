// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package sync

import (
	"context"
	"fmt"

	"github.com/tomtom215/simsync/internal/logging"
	"github.com/tomtom215/simsync/internal/metrics"
	"github.com/tomtom215/simsync/internal/models"
	"github.com/tomtom215/simsync/internal/validation"
)

// On-demand operations for a single SIM. They run on the caller's context
// and take no job lease: every write they make is an idempotent upsert that
// a concurrent scheduled run may repeat.

// SyncSIM refreshes one SIM from the provider and mirrors its newest provider
// events. A SIM the provider lists again loses its missing flag. An events
// failure is logged and leaves the refreshed SIM in place.
func (o *Orchestrator) SyncSIM(ctx context.Context, iccid string) (*models.SimSyncResult, error) {
	iccid, err := validation.ValidateICCID(iccid)
	if err != nil {
		return nil, err
	}

	sim, err := o.provider.GetSIM(ctx, iccid)
	if err != nil {
		return nil, fmt.Errorf("get sim %s: %w", iccid, err)
	}
	sim.LastSyncedAt = o.nowFunc().UTC()
	sim.MissingSince = nil
	if err := o.store.UpsertSIM(ctx, sim); err != nil {
		return nil, err
	}

	res := &models.SimSyncResult{SIM: sim}
	n, err := o.mirrorEvents(ctx, iccid)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("iccid", iccid).Msg("SIM refreshed but provider events not mirrored")
		return res, nil
	}
	res.EventsMirrored = n
	return res, nil
}

// SyncSIMUsage runs the usage step for one SIM already in the local mirror and
// returns the number of samples written.
func (o *Orchestrator) SyncSIMUsage(ctx context.Context, iccid string) (int, error) {
	iccid, err := validation.ValidateICCID(iccid)
	if err != nil {
		return 0, err
	}
	if _, err := o.store.GetSIM(ctx, iccid); err != nil {
		return 0, err
	}

	n, err := o.syncUsage(ctx, iccid, o.nowFunc().UTC())
	if err != nil {
		metrics.SimFailures.WithLabelValues(string(models.JobUsage)).Inc()
		return 0, fmt.Errorf("sync usage for %s: %w", iccid, err)
	}
	metrics.RecordsUpserted.WithLabelValues(string(models.JobUsage)).Add(float64(n))
	logging.Ctx(ctx).Info().Str("iccid", iccid).Int("samples", n).Msg("SIM usage synced on demand")
	return n, nil
}

// SyncSIMEvents mirrors the newest page of provider events for one SIM and
// returns the number of events not stored before.
func (o *Orchestrator) SyncSIMEvents(ctx context.Context, iccid string) (int, error) {
	iccid, err := validation.ValidateICCID(iccid)
	if err != nil {
		return 0, err
	}
	return o.mirrorEvents(ctx, iccid)
}

func (o *Orchestrator) mirrorEvents(ctx context.Context, iccid string) (int, error) {
	events, err := o.provider.GetEvents(ctx, iccid, 1, o.cfg.PageSize)
	if err != nil {
		return 0, fmt.Errorf("get events for %s: %w", iccid, err)
	}
	if len(events) == 0 {
		return 0, nil
	}
	return o.store.MirrorEvents(ctx, events)
}
