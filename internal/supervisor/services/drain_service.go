// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/simsync/internal/logging"
)

// Drainer is a component that finishes in-flight work on Shutdown.
// *sync.Orchestrator implements it.
type Drainer interface {
	Shutdown(ctx context.Context) error
}

// DrainService holds a Drainer until the tree stops, then gives it timeout
// to finish.
type DrainService struct {
	target  Drainer
	timeout time.Duration
	name    string
}

// NewDrainService creates a DrainService named name.
func NewDrainService(name string, target Drainer, timeout time.Duration) *DrainService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DrainService{target: target, timeout: timeout, name: name}
}

// Serve implements suture.Service.
func (d *DrainService) Serve(ctx context.Context) error {
	<-ctx.Done()

	drainCtx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.target.Shutdown(drainCtx); err != nil {
		logging.Warn().Err(err).Str("service", d.name).Msg("Drain did not complete")
		return fmt.Errorf("%s drain: %w", d.name, err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for suture logs.
func (d *DrainService) String() string {
	return d.name
}
