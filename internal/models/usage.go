// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package models

import (
	"sort"
	"time"
)

// UsageSample is an immutable usage delta keyed by (ICCID, Timestamp).
type UsageSample struct {
	ICCID       string    `json:"iccid"`
	Timestamp   time.Time `json:"timestamp"`
	VolumeRx    int64     `json:"volume_rx"`
	VolumeTx    int64     `json:"volume_tx"`
	TotalVolume int64     `json:"total_volume"`
	SMSMO       int64     `json:"sms_mo"`
	SMSMT       int64     `json:"sms_mt"`
}

// SortUsage orders samples by ascending timestamp, the order they are written in.
func SortUsage(samples []UsageSample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
}

// Window is a half-open fetch interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Checkpoint is the last committed sync position for one entity of one job kind.
type Checkpoint struct {
	JobKind   JobKind   `json:"job_kind"`
	EntityID  string    `json:"entity_id"`
	Position  time.Time `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
}
