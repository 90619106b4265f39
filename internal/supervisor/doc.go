// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

/*
Package supervisor provides process supervision for SIMSync using suture v4.

The tree organizes long-running services into three layers:

	RootSupervisor ("simsync")
	├── CoreSupervisor ("core-layer")
	│   ├── attempt-recorder
│   └── sync-drain
	├── JobsSupervisor ("jobs-layer")
	│   ├── job-inventory
	│   ├── job-usage
	│   ├── job-quota
	│   ├── job-token_refresh
	│   └── job-cleanup
	└── APISupervisor ("api-layer")
	    └── http-server

Crashed or panicking services are restarted with suture's failure decay and
backoff. Supervisor events are logged through the zerolog-backed slog
handler from the logging package:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{})
	tree.AddCoreService(recorder)
	tree.AddCoreService(services.NewDrainService("sync-drain", orch, 15*time.Second))
	for _, svc := range sync.JobServices(orch, cfg.Sync) {
	    tree.AddJobService(svc)
	}
	tree.AddAPIService(services.NewHTTPServerService(srv, 10*time.Second))
	errCh := tree.ServeBackground(ctx)
*/
package supervisor
