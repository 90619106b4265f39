// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

// Package monitor turns consecutive quota snapshots into edge-triggered
// threshold events and performs debounced automatic top-ups.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/simsync/internal/alert"
	"github.com/tomtom215/simsync/internal/config"
	"github.com/tomtom215/simsync/internal/kv"
	"github.com/tomtom215/simsync/internal/logging"
	"github.com/tomtom215/simsync/internal/metrics"
	"github.com/tomtom215/simsync/internal/models"
)

// Evaluate compares two snapshots of the same quota. ThresholdReached fires
// only when usage crosses ThresholdPercentage upward; QuotaDepleted fires
// only when Remaining reaches zero. A nil prev counts as below threshold and
// not depleted. Both sides are compared against curr's threshold.
func Evaluate(prev, curr *models.QuotaState) []models.ThresholdEvent {
	if curr == nil {
		return nil
	}

	var events []models.ThresholdEvent
	if pct := curr.ThresholdPercentage; pct > 0 {
		wasAbove := prev != nil && prev.UsedPercent() >= float64(pct)
		if !wasAbove && curr.UsedPercent() >= float64(pct) {
			events = append(events, newEvent(curr, models.EventThresholdReached))
		}
	}

	wasDepleted := prev != nil && prev.Depleted()
	if !wasDepleted && curr.Depleted() {
		events = append(events, newEvent(curr, models.EventQuotaDepleted))
	}
	return events
}

func newEvent(q *models.QuotaState, kind models.EventKind) models.ThresholdEvent {
	return models.ThresholdEvent{
		ICCID:     q.ICCID,
		QuotaType: q.Type,
		Kind:      kind,
		Timestamp: q.UpdatedAt,
		Detail: map[string]any{
			"total":                q.Total,
			"used":                 q.Used,
			"remaining":            q.Remaining,
			"used_percent":         q.UsedPercent(),
			"threshold_percentage": q.ThresholdPercentage,
		},
	}
}

// QuotaWriter persists quota snapshots. *store.Store implements it.
type QuotaWriter interface {
	UpsertQuota(ctx context.Context, q *models.QuotaState) error
}

// TopUpper adds volume at the provider. *provider.Client implements it.
type TopUpper interface {
	TopUp(ctx context.Context, iccid string, qt models.QuotaType, volume int64) error
}

// Monitor delivers threshold events and runs auto top-ups.
type Monitor struct {
	quotas  QuotaWriter
	topUp   TopUpper
	kv      kv.Store
	keys    kv.Keys
	sink    alert.Sink
	cfg     config.MonitorConfig
	nowFunc func() time.Time
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithNowFunc replaces the clock used to stamp top-ups.
func WithNowFunc(now func() time.Time) Option {
	return func(m *Monitor) { m.nowFunc = now }
}

// New creates a Monitor.
func New(quotas QuotaWriter, topUp TopUpper, store kv.Store, keys kv.Keys, sink alert.Sink, cfg config.MonitorConfig, opts ...Option) *Monitor {
	m := &Monitor{
		quotas:  quotas,
		topUp:   topUp,
		kv:      store,
		keys:    keys,
		sink:    sink,
		cfg:     cfg,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle evaluates prev against curr, which must already be persisted, and
// delivers the resulting events. On a depletion of an auto-reload quota it
// tops up at most once per TopUpCooldown; curr is updated in place after a
// successful top-up. It returns every event emitted, including top-up
// outcomes. Sink failures are logged and counted, not returned.
func (m *Monitor) Handle(ctx context.Context, prev, curr *models.QuotaState) ([]models.ThresholdEvent, error) {
	events := Evaluate(prev, curr)
	emitted := make([]models.ThresholdEvent, 0, len(events))

	var topUpErr error
	for _, ev := range events {
		m.emit(ctx, ev)
		emitted = append(emitted, ev)

		if ev.Kind != models.EventQuotaDepleted || !curr.AutoReload {
			continue
		}
		outcome, err := m.autoTopUp(ctx, curr)
		if outcome != nil {
			m.emit(ctx, *outcome)
			emitted = append(emitted, *outcome)
		}
		if err != nil {
			topUpErr = err
		}
	}
	return emitted, topUpErr
}

// autoTopUp returns the outcome event, or nil when the debounce key is held.
func (m *Monitor) autoTopUp(ctx context.Context, curr *models.QuotaState) (*models.ThresholdEvent, error) {
	log := logging.Ctx(ctx).With().
		Str("iccid", curr.ICCID).
		Str("quota_type", string(curr.Type)).
		Logger()

	now := m.nowFunc()
	key := m.keys.TopUpDebounce(curr.ICCID, string(curr.Type))
	acquired, err := m.kv.SetNX(ctx, key, now.UTC().Format(time.RFC3339), m.cfg.TopUpCooldown)
	if err != nil {
		return nil, fmt.Errorf("acquire top-up debounce: %w", err)
	}
	if !acquired {
		log.Debug().Msg("Auto top-up already attempted in this episode, skipping")
		return nil, nil
	}

	volume := curr.LastVolumeAdded
	if volume <= 0 {
		volume = m.cfg.DefaultTopUpVolume
	}

	// The debounce key is kept on failure so a failing provider is not
	// retried every tick.
	if err := m.topUp.TopUp(ctx, curr.ICCID, curr.Type, volume); err != nil {
		log.Error().Err(err).Int64("volume", volume).Msg("Auto top-up failed")
		ev := newEvent(curr, models.EventAutoTopUpFailed)
		ev.Timestamp = now
		ev.Detail["volume"] = volume
		ev.Detail["error"] = err.Error()
		return &ev, fmt.Errorf("auto top-up: %w", err)
	}

	updated := *curr
	if err := updated.ApplyTopUp(volume, now); err != nil {
		return nil, err
	}
	if err := m.quotas.UpsertQuota(ctx, &updated); err != nil {
		return nil, fmt.Errorf("persist topped-up quota: %w", err)
	}
	*curr = updated

	log.Info().
		Int64("volume", volume).
		Int64("total", curr.Total).
		Int64("remaining", curr.Remaining).
		Msg("Auto top-up applied")

	ev := newEvent(curr, models.EventAutoTopUp)
	ev.Detail["volume"] = volume
	return &ev, nil
}

func (m *Monitor) emit(ctx context.Context, ev models.ThresholdEvent) {
	metrics.RecordThresholdEvent(string(ev.Kind), string(ev.QuotaType))
	if m.sink == nil {
		return
	}
	if err := m.sink.Deliver(ctx, ev); err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("iccid", ev.ICCID).
			Str("event", string(ev.Kind)).
			Msg("Threshold event not fully delivered")
	}
}
