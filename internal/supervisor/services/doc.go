// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

/*
Package services adapts SIMSync components to suture's context-aware Serve
pattern.

  - HTTPServerService wraps *http.Server (ListenAndServe/Shutdown)
  - DrainService waits for cancellation and then drains a component with a
    Shutdown(ctx) method, such as the sync orchestrator's background runs

Components that already implement suture.Service (the attempt recorder and
the scheduled job services) are added to the tree directly.
*/
package services
