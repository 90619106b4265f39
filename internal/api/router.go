// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/simsync/internal/config"
)

// RouterConfig holds the HTTP layer settings.
type RouterConfig struct {
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSOrigins       []string
	RequestTimeout    time.Duration
}

// RouterConfigFrom builds a RouterConfig from the server configuration.
func RouterConfigFrom(cfg *config.ServerConfig) RouterConfig {
	return RouterConfig{
		RateLimitRequests: cfg.RateLimitReqs,
		RateLimitWindow:   cfg.RateLimitWindow,
		CORSOrigins:       cfg.CORSOrigins,
		RequestTimeout:    cfg.Timeout,
	}
}

// NewRouter wires the handlers into a chi router.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied in order.
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(CORS(cfg.CORSOrigins))
	r.Use(RequestLogger)
	r.Use(chimiddleware.Compress(5, "application/json"))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		NewResponseWriter(w, req).NotFound("route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		NewResponseWriter(w, req).Error(http.StatusMethodNotAllowed, &APIError{
			Code:    "METHOD_NOT_ALLOWED",
			Message: "method not allowed",
		})
	})

	// Probes are not rate limited.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Use(RequestMetrics)
		if cfg.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
		}

		r.Post("/sync/{kind}", h.TriggerSync)
		r.Get("/jobs/{id}", h.JobStatus)
		r.Get("/scheduler/status", h.SchedulerStatus)
		r.Get("/scheduler/jobs/{kind}", h.ScheduledJob)

		r.Route("/sims/{iccid}", func(r chi.Router) {
			r.Get("/", h.GetSIM)
			r.Post("/sync", h.SyncSIM)
			r.Get("/usage", h.ListUsage)
			r.Post("/usage/sync", h.SyncSIMUsage)
			r.Get("/events", h.ListEvents)
			r.Post("/events/sync", h.SyncSIMEvents)
			r.Get("/quota/{type}", h.GetQuota)
			r.Post("/quota/{type}/topup", h.TopUp)
			r.Post("/sms", h.SendSMS)
			r.Get("/connectivity", h.GetConnectivity)
			r.Post("/connectivity/reset", h.ResetConnectivity)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
