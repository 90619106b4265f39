// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/simsync/internal/models"
)

// JobController triggers and reports sync jobs and refreshes single SIMs.
// *sync.Orchestrator implements it.
type JobController interface {
	TriggerSync(ctx context.Context, kind string) (string, error)
	GetJobStatus(ctx context.Context, jobID string) (*models.JobStatus, error)

	SyncSIM(ctx context.Context, iccid string) (*models.SimSyncResult, error)
	SyncSIMUsage(ctx context.Context, iccid string) (int, error)
	SyncSIMEvents(ctx context.Context, iccid string) (int, error)
}

// ScheduleReader reports the job schedule. *sync.Scheduler implements it.
type ScheduleReader interface {
	Status() models.SchedulerStatus
	Job(kind string) (models.ScheduledJob, error)
}

// SimReader reads the local mirror. *store.Store implements it.
type SimReader interface {
	GetSIM(ctx context.Context, iccid string) (*models.SimRecord, error)
	ListUsage(ctx context.Context, iccid string) ([]models.UsageSample, error)
	GetQuota(ctx context.Context, iccid string, qt models.QuotaType) (*models.QuotaState, error)
	ListEvents(ctx context.Context, iccid string, limit int) ([]models.SimEvent, error)
	RecordSMS(ctx context.Context, msg *models.SMSMessage) error
}

// SimActions calls the provider directly. *provider.Client implements it.
type SimActions interface {
	SendSMS(ctx context.Context, iccid, message, destination string) (*models.SMSMessage, error)
	TopUp(ctx context.Context, iccid string, qt models.QuotaType, volume int64) error
	GetConnectivity(ctx context.Context, iccid string) (*models.Connectivity, error)
	ResetConnectivity(ctx context.Context, iccid string) error
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessCheck names a Pinger for the readiness report.
type ReadinessCheck struct {
	Name   string
	Pinger Pinger
}

// Handler holds the HTTP handlers.
type Handler struct {
	jobs         JobController
	schedule     ScheduleReader
	sims         SimReader
	actions      SimActions
	checks       []ReadinessCheck
	checkTimeout time.Duration
	startTime    time.Time
}

// NewHandler creates a Handler.
func NewHandler(jobs JobController, schedule ScheduleReader, sims SimReader, actions SimActions, checks ...ReadinessCheck) *Handler {
	return &Handler{
		jobs:         jobs,
		schedule:     schedule,
		sims:         sims,
		actions:      actions,
		checks:       checks,
		checkTimeout: 2 * time.Second,
		startTime:    time.Now(),
	}
}

type triggerResponse struct {
	JobID string `json:"job_id"`
	Kind  string `json:"kind"`
}

// TriggerSync handles POST /api/v1/sync/{kind}.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	kind := chi.URLParam(r, "kind")

	id, err := h.jobs.TriggerSync(r.Context(), kind)
	if err != nil {
		rw.Fail(err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+id)
	rw.JSON(http.StatusAccepted, triggerResponse{JobID: id, Kind: kind})
}

// JobStatus handles GET /api/v1/jobs/{id}.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	run, err := h.jobs.GetJobStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(run)
}

// SchedulerStatus handles GET /api/v1/scheduler/status.
func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.schedule.Status())
}

// ScheduledJob handles GET /api/v1/scheduler/jobs/{kind}.
func (h *Handler) ScheduledJob(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	job, err := h.schedule.Job(chi.URLParam(r, "kind"))
	if err != nil {
		rw.Fail(err)
		return
	}
	rw.Success(job)
}

type healthStatus struct {
	Status        string            `json:"status"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// HealthLive handles GET /api/v1/health/live.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(healthStatus{
		Status:        "alive",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	})
}

// HealthReady handles GET /api/v1/health/ready. It returns 503 while any
// dependency fails its ping.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
	defer cancel()

	status := healthStatus{
		Status:        "ready",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
		Checks:        make(map[string]string, len(h.checks)),
	}
	for _, c := range h.checks {
		if err := c.Pinger.Ping(ctx); err != nil {
			status.Status = "not_ready"
			status.Checks[c.Name] = "down"
			continue
		}
		status.Checks[c.Name] = "up"
	}

	if status.Status != "ready" {
		rw.writeJSON(http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Data:    status,
			Error:   &APIError{Code: ErrCodeServiceUnhealthy, Message: "a dependency is unavailable"},
			Meta:    rw.meta(),
		})
		return
	}
	rw.Success(status)
}
