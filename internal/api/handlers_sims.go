// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/simsync/internal/apierr"
	"github.com/tomtom215/simsync/internal/logging"
	"github.com/tomtom215/simsync/internal/models"
	"github.com/tomtom215/simsync/internal/validation"
)

const maxBodyBytes = 64 << 10

// SendSMSRequest is the body of POST /sims/{iccid}/sms.
type SendSMSRequest struct {
	Message     string `json:"message" validate:"required,max=160"`
	Destination string `json:"destination" validate:"omitempty,msisdn"`
}

// TopUpRequest is the body of POST /sims/{iccid}/quota/{type}/topup.
type TopUpRequest struct {
	Volume int64 `json:"volume" validate:"gt=0"`
}

// iccidParam validates the {iccid} path parameter. It writes the error
// response and returns false when the value is invalid.
func iccidParam(rw *ResponseWriter, r *http.Request) (string, bool) {
	iccid, err := validation.ValidateICCID(chi.URLParam(r, "iccid"))
	if err != nil {
		rw.Fail(err)
		return "", false
	}
	return iccid, true
}

func quotaTypeParam(rw *ResponseWriter, r *http.Request) (models.QuotaType, bool) {
	qt := models.QuotaType(chi.URLParam(r, "type"))
	if !qt.Valid() {
		rw.Fail(apierr.NewValidation("quota_type", "must be data or sms"))
		return "", false
	}
	return qt, true
}

// decodeBody decodes and validates a JSON body into dst.
func decodeBody(rw *ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(rw.w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		rw.BadRequest("invalid JSON body")
		return false
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		rw.Fail(verr.ToAPIErr())
		return false
	}
	return true
}

// GetSIM handles GET /api/v1/sims/{iccid}.
func (h *Handler) GetSIM(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	iccid, ok := iccidParam(rw, r)
	if !ok {
		return
	}
	sim, err := h.sims.GetSIM(r.Context(), iccid)
	if err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(sim)
}

// SyncSIM handles POST /api/v1/sims/{iccid}/sync.
func (h *Handler) SyncSIM(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	iccid, ok := iccidParam(rw, r)
	if !ok {
		return
	}
	res, err := h.jobs.SyncSIM(r.Context(), iccid)
	if err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(res)
}

type simSyncCount struct {
	ICCID   string `json:"iccid"`
	Samples *int   `json:"samples,omitempty"`
	Events  *int   `json:"events_mirrored,omitempty"`
}

// SyncSIMUsage handles POST /api/v1/sims/{iccid}/usage/sync.
func (h *Handler) SyncSIMUsage(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	iccid, ok := iccidParam(rw, r)
	if !ok {
		return
	}
	n, err := h.jobs.SyncSIMUsage(r.Context(), iccid)
	if err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(simSyncCount{ICCID: iccid, Samples: &n})
}

// SyncSIMEvents handles POST /api/v1/sims/{iccid}/events/sync.
func (h *Handler) SyncSIMEvents(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	iccid, ok := iccidParam(rw, r)
	if !ok {
		return
	}
	n, err := h.jobs.SyncSIMEvents(r.Context(), iccid)
	if err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(simSyncCount{ICCID: iccid, Events: &n})
}

// ListUsage handles GET /api/v1/sims/{iccid}/usage.
func (h *Handler) ListUsage(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	iccid, ok := iccidParam(rw, r)
	if !ok {
		return
	}
	samples, err := h.sims.ListUsage(r.Context(), iccid)
	if err != nil {
		rw.Fail(err)
		return
	}
	if samples == nil {
		samples = []models.UsageSample{}
	}
	rw.List(samples, len(samples))
}

// GetQuota handles GET /api/v1/sims/{iccid}/quota/{type}.
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	iccid, ok := iccidParam(rw, r)
	if !ok {
		return
	}
	qt, ok := quotaTypeParam(rw, r)
	if !ok {
		return
	}
	q, err := h.sims.GetQuota(r.Context(), iccid, qt)
	if err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(q)
}

// ListEvents handles GET /api/v1/sims/{iccid}/events?limit=N.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	iccid, ok := iccidParam(rw, r)
	if !ok {
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			rw.Fail(apierr.NewValidation("limit", "must be between 1 and 1000"))
			return
		}
		limit = n
	}
	events, err := h.sims.ListEvents(r.Context(), iccid, limit)
	if err != nil {
		rw.Fail(err)
		return
	}
	if events == nil {
		events = []models.SimEvent{}
	}
	rw.List(events, len(events))
}

// SendSMS handles POST /api/v1/sims/{iccid}/sms.
func (h *Handler) SendSMS(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	iccid, ok := iccidParam(rw, r)
	if !ok {
		return
	}
	var req SendSMSRequest
	if !decodeBody(rw, r, &req) {
		return
	}

	msg, err := h.actions.SendSMS(r.Context(), iccid, req.Message, req.Destination)
	if err != nil {
		rw.Fail(err)
		return
	}
	// Recording is best effort once the provider has accepted the message.
	if err := h.sims.RecordSMS(r.Context(), msg); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("iccid", iccid).Msg("Failed to record sent SMS")
	}
	rw.JSON(http.StatusAccepted, msg)
}

type topUpResponse struct {
	ICCID     string           `json:"iccid"`
	QuotaType models.QuotaType `json:"quota_type"`
	Volume    int64            `json:"volume"`
}

// TopUp handles POST /api/v1/sims/{iccid}/quota/{type}/topup. The local
// quota snapshot picks up the new allowance on the next quota sync.
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	iccid, ok := iccidParam(rw, r)
	if !ok {
		return
	}
	qt, ok := quotaTypeParam(rw, r)
	if !ok {
		return
	}
	var req TopUpRequest
	if !decodeBody(rw, r, &req) {
		return
	}
	if err := h.actions.TopUp(r.Context(), iccid, qt, req.Volume); err != nil {
		rw.Fail(err)
		return
	}
	logging.Ctx(r.Context()).Info().
		Str("iccid", iccid).
		Str("quota_type", string(qt)).
		Int64("volume", req.Volume).
		Msg("Manual top-up accepted")
	rw.JSON(http.StatusAccepted, topUpResponse{ICCID: iccid, QuotaType: qt, Volume: req.Volume})
}

// GetConnectivity handles GET /api/v1/sims/{iccid}/connectivity.
func (h *Handler) GetConnectivity(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	iccid, ok := iccidParam(rw, r)
	if !ok {
		return
	}
	c, err := h.actions.GetConnectivity(r.Context(), iccid)
	if err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(c)
}

// ResetConnectivity handles POST /api/v1/sims/{iccid}/connectivity/reset.
func (h *Handler) ResetConnectivity(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	iccid, ok := iccidParam(rw, r)
	if !ok {
		return
	}
	if err := h.actions.ResetConnectivity(r.Context(), iccid); err != nil {
		rw.Fail(err)
		return
	}
	rw.JSON(http.StatusAccepted, map[string]string{"iccid": iccid, "status": "reset_requested"})
}
