// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package models

import (
	"errors"
	"fmt"
	"time"
)

// QuotaType selects the data or SMS allowance of a SIM.
type QuotaType string

const (
	QuotaData QuotaType = "data"
	QuotaSMS  QuotaType = "sms"
)

// AllQuotaTypes lists the allowances checked by the quota job.
var AllQuotaTypes = []QuotaType{QuotaData, QuotaSMS}

// Valid reports whether q is a known quota type.
func (q QuotaType) Valid() bool {
	return q == QuotaData || q == QuotaSMS
}

// ErrQuotaInvariant is returned when a quota snapshot would show
// Remaining != Total - Used or a negative remaining volume.
var ErrQuotaInvariant = errors.New("quota invariant violated")

// QuotaState is the allowance snapshot for one (ICCID, QuotaType).
type QuotaState struct {
	ICCID               string     `json:"iccid"`
	Type                QuotaType  `json:"quota_type"`
	Total               int64      `json:"total_volume"`
	Used                int64      `json:"used_volume"`
	Remaining           int64      `json:"remaining_volume"`
	ThresholdPercentage int        `json:"threshold_percentage"`
	AutoReload          bool       `json:"auto_reload"`
	LastVolumeAdded     int64      `json:"last_volume_added,omitempty"`
	Status              string     `json:"status,omitempty"`
	ExpiryDate          *time.Time `json:"expiry_date,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Normalize clamps Used into [0, Total] and recomputes Remaining. It returns
// true when clamping changed the snapshot.
func (q *QuotaState) Normalize() bool {
	clamped := false
	if q.Total < 0 {
		q.Total = 0
		clamped = true
	}
	switch {
	case q.Used < 0:
		q.Used = 0
		clamped = true
	case q.Used > q.Total:
		q.Used = q.Total
		clamped = true
	}
	q.Remaining = q.Total - q.Used
	return clamped
}

// Validate checks the remaining == total - used >= 0 invariant.
func (q *QuotaState) Validate() error {
	if q.Used < 0 || q.Used > q.Total || q.Remaining != q.Total-q.Used || q.Remaining < 0 {
		return fmt.Errorf("%w: iccid=%s type=%s total=%d used=%d remaining=%d",
			ErrQuotaInvariant, q.ICCID, q.Type, q.Total, q.Used, q.Remaining)
	}
	return nil
}

// UsedPercent returns used/total as a percentage. An empty allowance counts
// as fully used.
func (q *QuotaState) UsedPercent() float64 {
	if q.Total <= 0 {
		return 100
	}
	return float64(q.Used) / float64(q.Total) * 100
}

// Depleted reports whether nothing remains.
func (q *QuotaState) Depleted() bool {
	return q.Remaining <= 0
}

// ApplyTopUp adds volume to the allowance after a successful provider top-up.
func (q *QuotaState) ApplyTopUp(volume int64, at time.Time) error {
	if volume < 0 {
		return fmt.Errorf("%w: negative top-up volume %d", ErrQuotaInvariant, volume)
	}
	q.Total += volume
	q.Remaining = q.Total - q.Used
	q.LastVolumeAdded = volume
	q.UpdatedAt = at
	return q.Validate()
}
