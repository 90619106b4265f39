// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

// Package logging provides centralized zerolog-based structured logging for SIMSync.
//
// JSON output is the production default; console output is available for
// development. A process-wide logger is configured once from main, and
// request or job scoped loggers are derived from the context.
//
// # Quick Start
//
//	import "github.com/tomtom215/simsync/internal/logging"
//
//	logging.Init(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	logging.Info().Str("iccid", iccid).Msg("SIM flagged missing")
//	logging.Error().Err(err).Str("job", "usage").Msg("Job failed")
//
// # Configuration
//
// Environment variables, read through the config package:
//
//	LOG_LEVEL   - trace, debug, info, warn, error (default: info)
//	LOG_FORMAT  - json, console (default: json)
//	LOG_CALLER  - include caller file:line (default: false)
//
// # Context Propagation
//
// The HTTP layer stores a correlation id on the request context and the sync
// orchestrator adds the job run id. Ctx returns a logger carrying both:
//
//	ctx = logging.ContextWithCorrelationID(ctx, id)
//	ctx = logging.ContextWithJobID(ctx, runID)
//	logging.Ctx(ctx).Warn().Str("iccid", iccid).Msg("Usage fetch failed")
//
// # Suture Integration
//
// NewSlogLogger bridges zerolog to log/slog so supervisor events from
// sutureslog land in the same stream.
//
// # Testing
//
// NewTestLogger writes to a buffer for assertions. Setting
// SIMSYNC_QUIET_TESTS=1 disables output from the global logger.
package logging
