// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package provider

import (
	"bytes"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/simsync/internal/executor"
	"github.com/tomtom215/simsync/internal/models"
)

// flexString accepts a JSON string or number. The provider returns numeric
// ids on some endpoints and string ids on others.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type simPayload struct {
	ICCID     string `json:"iccid"`
	IMSI      string `json:"imsi"`
	MSISDN    string `json:"msisdn"`
	Status    string `json:"status"`
	Label     string `json:"label"`
	IPAddress string `json:"ip_address"`
	IMEI      string `json:"imei"`
}

func (p simPayload) toModel() models.SimRecord {
	return models.SimRecord{
		ICCID:     p.ICCID,
		IMSI:      p.IMSI,
		MSISDN:    p.MSISDN,
		Status:    p.Status,
		Label:     p.Label,
		IPAddress: p.IPAddress,
		IMEI:      p.IMEI,
	}
}

type simListPayload struct {
	SIMs     []simPayload `json:"sims"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"pageSize"`
}

// decodeSIMPage accepts both the wrapped {"sims": [...]} listing and a bare
// array with the total in X-Total-Count.
func decodeSIMPage(resp *executor.Response, page, pageSize int) (*models.SimPage, error) {
	var list simListPayload
	if isJSONArray(resp.Body) {
		if err := resp.Decode(&list.SIMs); err != nil {
			return nil, err
		}
		list.Total = -1
		if n, err := strconv.Atoi(resp.Header.Get("X-Total-Count")); err == nil {
			list.Total = n
		}
	} else if err := resp.Decode(&list); err != nil {
		return nil, err
	}

	out := &models.SimPage{
		SIMs:     make([]models.SimRecord, 0, len(list.SIMs)),
		Total:    list.Total,
		Page:     page,
		PageSize: pageSize,
		Fetched:  len(list.SIMs),
	}
	for _, s := range list.SIMs {
		if s.ICCID == "" {
			continue
		}
		out.SIMs = append(out.SIMs, s.toModel())
	}
	if out.Total < 0 {
		// Unknown total: callers stop on the first short page.
		out.Total = (page-1)*pageSize + len(list.SIMs)
		if len(list.SIMs) == pageSize {
			out.Total++
		}
	}
	return out, nil
}

type usagePayload struct {
	Timestamp   time.Time `json:"timestamp"`
	VolumeRx    float64   `json:"volume_rx"`
	VolumeTx    float64   `json:"volume_tx"`
	TotalVolume float64   `json:"total_volume"`
	SMSMO       int64     `json:"sms_mo"`
	SMSMT       int64     `json:"sms_mt"`
}

type usageListPayload struct {
	Usage []usagePayload `json:"usage"`
}

func decodeUsage(resp *executor.Response, iccid string) ([]models.UsageSample, error) {
	var list usageListPayload
	if isJSONArray(resp.Body) {
		if err := resp.Decode(&list.Usage); err != nil {
			return nil, err
		}
	} else if err := resp.Decode(&list); err != nil {
		return nil, err
	}

	samples := make([]models.UsageSample, 0, len(list.Usage))
	for _, u := range list.Usage {
		if u.Timestamp.IsZero() {
			continue
		}
		s := models.UsageSample{
			ICCID:       iccid,
			Timestamp:   u.Timestamp.UTC(),
			VolumeRx:    roundVolume(u.VolumeRx),
			VolumeTx:    roundVolume(u.VolumeTx),
			TotalVolume: roundVolume(u.TotalVolume),
			SMSMO:       u.SMSMO,
			SMSMT:       u.SMSMT,
		}
		if s.TotalVolume == 0 {
			s.TotalVolume = s.VolumeRx + s.VolumeTx
		}
		samples = append(samples, s)
	}
	models.SortUsage(samples)
	return samples, nil
}

// quotaPayload reports volume as the remaining allowance and total_volume as
// the full allowance.
type quotaPayload struct {
	Volume              float64    `json:"volume"`
	TotalVolume         float64    `json:"total_volume"`
	ThresholdPercentage *int       `json:"threshold_percentage"`
	AutoReload          bool       `json:"auto_reload"`
	LastVolumeAdded     float64    `json:"last_volume_added"`
	Status              string     `json:"status"`
	ExpiryDate          *time.Time `json:"expiry_date"`
}

func (p quotaPayload) toModel(iccid string, qt models.QuotaType, defaultThreshold int, now time.Time) *models.QuotaState {
	total := roundVolume(p.TotalVolume)
	remaining := roundVolume(p.Volume)
	q := &models.QuotaState{
		ICCID:               iccid,
		Type:                qt,
		Total:               total,
		Used:                total - remaining,
		ThresholdPercentage: defaultThreshold,
		AutoReload:          p.AutoReload,
		LastVolumeAdded:     roundVolume(p.LastVolumeAdded),
		Status:              p.Status,
		ExpiryDate:          p.ExpiryDate,
		UpdatedAt:           now.UTC(),
	}
	if p.ThresholdPercentage != nil {
		q.ThresholdPercentage = *p.ThresholdPercentage
	}
	q.Normalize()
	return q
}

type topUpRequest struct {
	Volume int64 `json:"volume"`
}

type smsRequest struct {
	Message     string `json:"message"`
	Destination string `json:"destination,omitempty"`
}

type smsPayload struct {
	ID          flexString `json:"id"`
	Status      string     `json:"status"`
	SubmittedAt *time.Time `json:"submit_date"`
}

func (p smsPayload) toModel(in smsInput, now time.Time) *models.SMSMessage {
	msg := &models.SMSMessage{
		ID:          string(p.ID),
		ICCID:       in.ICCID,
		Direction:   "MT",
		Message:     in.Message,
		Destination: in.Destination,
		Status:      p.Status,
		SubmittedAt: now.UTC(),
	}
	if p.SubmittedAt != nil {
		msg.SubmittedAt = p.SubmittedAt.UTC()
	}
	if msg.Status == "" {
		msg.Status = "submitted"
	}
	return msg
}

type connectivityPayload struct {
	Connected      *bool      `json:"connected"`
	Status         string     `json:"status"`
	CellID         flexString `json:"cell_id"`
	SignalStrength int        `json:"signal_strength"`
	RAT            string     `json:"rat"`
	CountryCode    string     `json:"country_code"`
	OperatorName   string     `json:"operator_name"`
	Timestamp      *time.Time `json:"timestamp"`
}

func (p connectivityPayload) toModel(iccid string, now time.Time) *models.Connectivity {
	c := &models.Connectivity{
		ICCID:          iccid,
		CellID:         string(p.CellID),
		SignalStrength: p.SignalStrength,
		RAT:            p.RAT,
		CountryCode:    p.CountryCode,
		OperatorName:   p.OperatorName,
		Timestamp:      now.UTC(),
	}
	switch {
	case p.Connected != nil:
		c.Connected = *p.Connected
	default:
		c.Connected = p.Status == "ONLINE" || p.Status == "online" || p.Status == "ATTACHED"
	}
	if p.Timestamp != nil {
		c.Timestamp = p.Timestamp.UTC()
	}
	return c
}

type eventPayload struct {
	ID        flexString     `json:"id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"event_data"`
}

type eventListPayload struct {
	Events []eventPayload `json:"events"`
}

func decodeEvents(resp *executor.Response, iccid string) ([]models.SimEvent, error) {
	var list eventListPayload
	if isJSONArray(resp.Body) {
		if err := resp.Decode(&list.Events); err != nil {
			return nil, err
		}
	} else if err := resp.Decode(&list); err != nil {
		return nil, err
	}

	events := make([]models.SimEvent, 0, len(list.Events))
	for _, e := range list.Events {
		events = append(events, models.SimEvent{
			ID:        string(e.ID),
			ICCID:     iccid,
			EventType: e.EventType,
			Data:      e.Data,
			Timestamp: e.Timestamp.UTC(),
		})
	}
	return events, nil
}

func isJSONArray(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '['
}

func roundVolume(v float64) int64 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return int64(math.Round(v))
}
