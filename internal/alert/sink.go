// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

// Package alert delivers threshold events to sinks: the structured log, the
// SIM event table and an optional webhook.
package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/simsync/internal/logging"
	"github.com/tomtom215/simsync/internal/metrics"
	"github.com/tomtom215/simsync/internal/models"
)

// Sink receives threshold events.
type Sink interface {
	Deliver(ctx context.Context, ev models.ThresholdEvent) error
	Name() string
}

// LogSink writes events to the structured log.
type LogSink struct{}

// Name implements Sink.
func (LogSink) Name() string { return "log" }

// Deliver implements Sink.
func (LogSink) Deliver(ctx context.Context, ev models.ThresholdEvent) error {
	log := logging.Ctx(ctx)
	e := log.Warn()
	if ev.Kind == models.EventAutoTopUp {
		e = log.Info()
	}
	e.Str("iccid", ev.ICCID).
		Str("quota_type", string(ev.QuotaType)).
		Str("event", string(ev.Kind)).
		Time("at", ev.Timestamp).
		Interface("detail", ev.Detail).
		Msg("Threshold event")
	return nil
}

// EventWriter persists SIM events. *store.Store implements it.
type EventWriter interface {
	InsertEvent(ctx context.Context, ev *models.SimEvent) error
}

// StoreSink persists events as SIM events so the events retention window
// applies to them.
type StoreSink struct {
	events EventWriter
}

// NewStoreSink creates a StoreSink.
func NewStoreSink(events EventWriter) *StoreSink {
	return &StoreSink{events: events}
}

// Name implements Sink.
func (s *StoreSink) Name() string { return "store" }

// Deliver implements Sink.
func (s *StoreSink) Deliver(ctx context.Context, ev models.ThresholdEvent) error {
	data := make(map[string]any, len(ev.Detail)+1)
	for k, v := range ev.Detail {
		data[k] = v
	}
	if ev.QuotaType != "" {
		data["quota_type"] = string(ev.QuotaType)
	}
	return s.events.InsertEvent(ctx, &models.SimEvent{
		ICCID:     ev.ICCID,
		EventType: string(ev.Kind),
		Data:      data,
		Timestamp: ev.Timestamp,
	})
}

// MultiSink fans an event out to every sink. A failing sink does not stop
// delivery to the others; failures are counted per sink and joined.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a MultiSink.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Name implements Sink.
func (m *MultiSink) Name() string { return "multi" }

// Deliver implements Sink.
func (m *MultiSink) Deliver(ctx context.Context, ev models.ThresholdEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Deliver(ctx, ev); err != nil {
			metrics.AlertDeliveryFailures.WithLabelValues(s.Name()).Inc()
			logging.Ctx(ctx).Error().Err(err).
				Str("sink", s.Name()).
				Str("iccid", ev.ICCID).
				Str("event", string(ev.Kind)).
				Msg("Alert delivery failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
