// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

/*
Package api exposes the sync engine over HTTP using the chi router.

Routes:

	POST /api/v1/sync/{kind}                      trigger a sync job (202, 400, 409)
	GET  /api/v1/jobs/{id}                        job run status (200, 404)
	GET  /api/v1/scheduler/status                 schedule, next and last run per job
	GET  /api/v1/scheduler/jobs/{kind}            one job's schedule (200, 404, 503)
	GET  /api/v1/sims/{iccid}                     mirrored SIM record
	POST /api/v1/sims/{iccid}/sync                refresh one SIM and mirror its events
	GET  /api/v1/sims/{iccid}/usage               stored usage samples
	POST /api/v1/sims/{iccid}/usage/sync          run the usage step for one SIM
	GET  /api/v1/sims/{iccid}/quota/{type}        stored quota snapshot
	GET  /api/v1/sims/{iccid}/events              stored SIM events
	POST /api/v1/sims/{iccid}/events/sync         mirror the SIM's provider events
	POST /api/v1/sims/{iccid}/sms                 send an SMS through the provider
	POST /api/v1/sims/{iccid}/quota/{type}/topup  top up a quota at the provider
	GET  /api/v1/sims/{iccid}/connectivity        live connectivity from the provider
	POST /api/v1/sims/{iccid}/connectivity/reset  reset the SIM's network session
	GET  /api/v1/health/live                      liveness
	GET  /api/v1/health/ready                     readiness (pings the KV and SQL stores)
	GET  /metrics                                 Prometheus metrics

Every JSON response uses the {success, data, error, meta} envelope. Errors are
mapped through apierr.Code so raw error text from internal packages never
reaches the client except for validation failures.
*/
package api
