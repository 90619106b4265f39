// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package models

import "time"

// EventKind classifies a threshold event.
type EventKind string

const (
	EventThresholdReached EventKind = "threshold_reached"
	EventQuotaDepleted    EventKind = "quota_depleted"
	EventAutoTopUp        EventKind = "auto_top_up"
	EventAutoTopUpFailed  EventKind = "auto_top_up_failed"
	EventAuthFailure      EventKind = "auth_failure"
)

// ThresholdEvent is the structured record delivered to alert sinks.
type ThresholdEvent struct {
	ICCID     string         `json:"iccid"`
	QuotaType QuotaType      `json:"quota_type,omitempty"`
	Kind      EventKind      `json:"event_kind"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}
