// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/simsync/internal/logging"
	"github.com/tomtom215/simsync/internal/metrics"
	"github.com/tomtom215/simsync/internal/models"
	"github.com/tomtom215/simsync/internal/store"
)

// errAdmissionDeadline marks a run that stopped admitting SIMs before the
// batch was exhausted.
var errAdmissionDeadline = errors.New("admission deadline exceeded")

// runInventory mirrors the provider SIM listing. SIMs missing from a complete
// listing are flagged, never deleted; an incomplete listing flags nothing.
func (o *Orchestrator) runInventory(ctx context.Context) (models.JobStats, error) {
	var stats models.JobStats
	runStart := o.nowFunc().UTC()
	pageSize := o.cfg.PageSize

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("inventory interrupted at page %d: %w", page, err)
		}
		p, err := o.provider.ListSIMs(ctx, page, pageSize, models.SimFilters{})
		if err != nil {
			return stats, fmt.Errorf("list sims page %d: %w", page, err)
		}

		for i := range p.SIMs {
			sim := p.SIMs[i]
			sim.LastSyncedAt = runStart
			sim.MissingSince = nil
			if err := o.store.UpsertSIM(ctx, &sim); err != nil {
				return stats, err
			}
			stats.Processed++
			stats.Succeeded++
			stats.Upserted++
		}

		// Entries dropped while decoding still count toward a full page.
		if p.Received() < pageSize || page*pageSize >= p.Total {
			break
		}
	}

	flagged, err := o.store.FlagMissingSIMs(ctx, runStart, o.nowFunc().UTC())
	if err != nil {
		return stats, err
	}
	stats.Flagged = flagged
	if flagged > 0 {
		logging.Ctx(ctx).Warn().Int("flagged", flagged).Msg("SIMs missing from provider inventory")
	}
	return stats, nil
}

// runUsage fetches each active SIM's usage since its checkpoint. Samples and
// the advanced checkpoint commit together per SIM.
func (o *Orchestrator) runUsage(ctx context.Context) (models.JobStats, error) {
	if _, err := o.tokens.GetValidToken(ctx); err != nil {
		return models.JobStats{}, fmt.Errorf("acquire token: %w", err)
	}
	sims, err := o.store.ListActiveSIMs(ctx)
	if err != nil {
		return models.JobStats{}, err
	}
	end := o.nowFunc().UTC()

	stats := o.forEachSIM(ctx, models.JobUsage, sims, func(ctx context.Context, sim models.SimRecord) (simResult, error) {
		n, err := o.syncUsage(ctx, sim.ICCID, end)
		return simResult{upserted: n}, err
	})
	return stats, finishBatch(stats)
}

// syncUsage fetches one SIM's usage from its checkpoint up to end and commits
// it. It returns the number of samples written.
func (o *Orchestrator) syncUsage(ctx context.Context, iccid string, end time.Time) (int, error) {
	start, ok, err := o.store.GetCheckpoint(ctx, models.JobUsage, iccid)
	if err != nil {
		return 0, err
	}
	if !ok {
		start = end.Add(-o.cfg.InitialLookback)
	}
	if !start.Before(end) {
		return 0, nil
	}

	samples, err := o.provider.GetUsage(ctx, iccid, models.Window{Start: start, End: end})
	if err != nil {
		return 0, err
	}
	if err := o.store.CommitUsage(ctx, iccid, samples, end); err != nil {
		return 0, err
	}
	return len(samples), nil
}

// runQuota refreshes every quota of every active SIM and hands consecutive
// snapshots to the threshold monitor.
func (o *Orchestrator) runQuota(ctx context.Context) (models.JobStats, error) {
	if _, err := o.tokens.GetValidToken(ctx); err != nil {
		return models.JobStats{}, fmt.Errorf("acquire token: %w", err)
	}
	sims, err := o.store.ListActiveSIMs(ctx)
	if err != nil {
		return models.JobStats{}, err
	}

	stats := o.forEachSIM(ctx, models.JobQuota, sims, func(ctx context.Context, sim models.SimRecord) (simResult, error) {
		var (
			res  simResult
			errs []error
		)
		for _, qt := range models.AllQuotaTypes {
			n, err := o.syncQuota(ctx, sim.ICCID, qt)
			res.events += n
			if err != nil {
				errs = append(errs, fmt.Errorf("%s quota: %w", qt, err))
				continue
			}
			res.upserted++
		}
		return res, errors.Join(errs...)
	})
	return stats, finishBatch(stats)
}

func (o *Orchestrator) syncQuota(ctx context.Context, iccid string, qt models.QuotaType) (int, error) {
	curr, err := o.provider.GetQuota(ctx, iccid, qt)
	if err != nil {
		return 0, err
	}
	prev, err := o.store.GetQuota(ctx, iccid, qt)
	if errors.Is(err, store.ErrNotFound) {
		prev = nil
	} else if err != nil {
		return 0, err
	}

	if curr.Normalize() {
		logging.Ctx(ctx).Warn().
			Str("iccid", iccid).
			Str("quota_type", string(qt)).
			Msg("Provider quota out of range, clamped")
	}
	if err := o.store.UpsertQuota(ctx, curr); err != nil {
		return 0, err
	}
	if o.monitor == nil {
		return 0, nil
	}
	events, err := o.monitor.Handle(ctx, prev, curr)
	return len(events), err
}

// runTokenRefresh refreshes the shared token ahead of expiry. After
// FatalAfter consecutive failures an auth failure alert is raised once.
func (o *Orchestrator) runTokenRefresh(ctx context.Context) (models.JobStats, error) {
	stats := models.JobStats{Processed: 1}
	refreshed, err := o.tokens.PreRefresh(ctx)
	if err != nil {
		stats.Failed = 1
		failures := int(o.tokenFailures.Add(1))
		if o.tokenFatalAfter > 0 && failures == o.tokenFatalAfter {
			o.raiseAuthFailure(ctx, failures, err)
		}
		return stats, fmt.Errorf("token pre-refresh (%d consecutive failures): %w", failures, err)
	}
	o.tokenFailures.Store(0)
	stats.Succeeded = 1
	if refreshed {
		stats.Upserted = 1
	}
	return stats, nil
}

func (o *Orchestrator) raiseAuthFailure(ctx context.Context, failures int, cause error) {
	ev := models.ThresholdEvent{
		Kind:      models.EventAuthFailure,
		Timestamp: o.nowFunc().UTC(),
		Detail: map[string]any{
			"consecutive_failures": failures,
			"error":                cause.Error(),
		},
	}
	metrics.RecordThresholdEvent(string(ev.Kind), "")
	logging.Ctx(ctx).Error().Err(cause).Int("consecutive_failures", failures).Msg("Provider authentication keeps failing")
	if o.sink == nil {
		return
	}
	if err := o.sink.Deliver(context.WithoutCancel(ctx), ev); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Auth failure alert not fully delivered")
	}
}

// runCleanup applies the retention windows and fails runs abandoned in
// RUNNING by a crashed replica. Every step is idempotent.
func (o *Orchestrator) runCleanup(ctx context.Context) (models.JobStats, error) {
	var stats models.JobStats
	now := o.nowFunc().UTC()

	steps := []struct {
		name string
		fn   func() (int64, error)
	}{
		{"usage_samples", func() (int64, error) { return o.store.DeleteUsageBefore(ctx, now.Add(-o.cfg.UsageRetention)) }},
		{"sim_events", func() (int64, error) { return o.store.DeleteEventsBefore(ctx, now.Add(-o.cfg.EventRetention)) }},
		{"job_runs", func() (int64, error) { return o.store.DeleteJobRunsBefore(ctx, now.Add(-o.cfg.JobRetention)) }},
		// A run older than its lease TTL can no longer be alive.
		{"stale_runs", func() (int64, error) {
			return o.store.ExpireJobRuns(ctx, now.Add(-o.leaseTTL()), now)
		}},
	}

	for _, step := range steps {
		n, err := step.fn()
		if err != nil {
			return stats, fmt.Errorf("cleanup %s: %w", step.name, err)
		}
		stats.Processed++
		stats.Succeeded++
		if step.name == "stale_runs" {
			stats.Flagged = int(n)
			continue
		}
		stats.Deleted += n
	}
	logging.Ctx(ctx).Info().Int64("deleted", stats.Deleted).Int("expired_runs", stats.Flagged).Msg("Retention cleanup complete")
	return stats, nil
}

// finishBatch turns unprocessed SIMs into a job failure. Per-SIM failures
// alone do not fail the run.
func finishBatch(stats models.JobStats) error {
	if stats.Unprocessed > 0 {
		return fmt.Errorf("%w: %d SIMs not processed", errAdmissionDeadline, stats.Unprocessed)
	}
	return nil
}
