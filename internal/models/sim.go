// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package models

import "time"

// SIM statuses reported by the provider that count as active for usage and
// quota jobs.
const (
	SimStatusActive  = "active"
	SimStatusEnabled = "enabled"
)

// SimRecord is the local mirror of a provider SIM. Rows are never deleted by
// sync; a SIM that disappears from the provider listing gets MissingSince set.
type SimRecord struct {
	ICCID        string     `json:"iccid"`
	IMSI         string     `json:"imsi,omitempty"`
	MSISDN       string     `json:"msisdn,omitempty"`
	Status       string     `json:"status"`
	Label        string     `json:"label,omitempty"`
	IPAddress    string     `json:"ip_address,omitempty"`
	IMEI         string     `json:"imei,omitempty"`
	LastSyncedAt time.Time  `json:"last_synced_at"`
	MissingSince *time.Time `json:"missing_since,omitempty"`
}

// IsActive reports whether the SIM takes part in usage and quota syncs.
func (s *SimRecord) IsActive() bool {
	if s.MissingSince != nil {
		return false
	}
	return s.Status == SimStatusActive || s.Status == SimStatusEnabled
}

// SimPage is one page of the provider SIM listing.
type SimPage struct {
	SIMs     []SimRecord `json:"sims"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	// Fetched counts the entries the provider returned, including ones
	// dropped while decoding. Zero means len(SIMs).
	Fetched int `json:"-"`
}

// Received is the number of listing entries the provider sent for this page.
func (p *SimPage) Received() int {
	if p.Fetched > len(p.SIMs) {
		return p.Fetched
	}
	return len(p.SIMs)
}

// SimFilters narrows a SIM listing.
type SimFilters struct {
	ICCID string
	IMSI  string
}

// Connectivity is the provider's view of a SIM's network attachment.
type Connectivity struct {
	ICCID          string    `json:"iccid"`
	Connected      bool      `json:"connected"`
	CellID         string    `json:"cell_id,omitempty"`
	SignalStrength int       `json:"signal_strength,omitempty"`
	RAT            string    `json:"rat,omitempty"`
	CountryCode    string    `json:"country_code,omitempty"`
	OperatorName   string    `json:"operator_name,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// SimEvent is a lifecycle or alert event attached to a SIM. Threshold events
// raised locally are stored here too so the events retention window covers
// them.
type SimEvent struct {
	ID        string         `json:"id,omitempty"`
	ICCID     string         `json:"iccid"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"event_data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SimSyncResult is the outcome of refreshing one SIM on demand.
type SimSyncResult struct {
	SIM            *SimRecord `json:"sim"`
	EventsMirrored int        `json:"events_mirrored"`
}

// SMSMessage records an SMS sent to a SIM through the provider.
type SMSMessage struct {
	ID          string    `json:"id,omitempty"`
	ICCID       string    `json:"iccid"`
	Direction   string    `json:"direction"`
	Message     string    `json:"message"`
	Destination string    `json:"destination_address,omitempty"`
	Status      string    `json:"status,omitempty"`
	SubmittedAt time.Time `json:"submit_date"`
}
