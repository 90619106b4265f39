// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package sync

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/simsync/internal/logging"
	"github.com/tomtom215/simsync/internal/models"
)

// simResult is what one per-SIM unit of work reports back.
type simResult struct {
	upserted int
	events   int
}

// forEachSIM runs fn for every SIM with at most Concurrency in flight.
//
// No new SIM is started once admitCtx is done; those SIMs are counted as
// unprocessed. Work already started runs on a context detached from the
// admission deadline that is cancelled CallTimeout after the deadline
// passes. A failing SIM is recorded and never stops the batch.
func (o *Orchestrator) forEachSIM(admitCtx context.Context, kind models.JobKind, sims []models.SimRecord,
	fn func(ctx context.Context, sim models.SimRecord) (simResult, error)) models.JobStats {
	var (
		mu    sync.Mutex
		stats models.JobStats
		g     errgroup.Group
	)
	g.SetLimit(o.cfg.Concurrency)

	skip := func() {
		mu.Lock()
		stats.Unprocessed++
		mu.Unlock()
	}

	for i, sim := range sims {
		if admitCtx.Err() != nil {
			mu.Lock()
			stats.Unprocessed += len(sims) - i
			mu.Unlock()
			break
		}
		g.Go(func() error {
			// The slot may have opened after the deadline.
			if admitCtx.Err() != nil {
				skip()
				return nil
			}

			ctx, cancel := detachWithGrace(admitCtx, o.callTimeout)
			defer cancel()

			res, err := fn(ctx, sim)

			mu.Lock()
			defer mu.Unlock()
			stats.Processed++
			if err != nil {
				stats.Failed++
				stats.Failures = append(stats.Failures, models.EntityFailure{ICCID: sim.ICCID, Error: err.Error()})
				logging.Ctx(ctx).Warn().Err(err).
					Str("job", string(kind)).
					Str("iccid", sim.ICCID).
					Msg("SIM sync failed")
				return nil
			}
			stats.Succeeded++
			stats.Upserted += res.upserted
			stats.Events += res.events
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	slices.SortFunc(stats.Failures, func(a, b models.EntityFailure) int {
		return strings.Compare(a.ICCID, b.ICCID)
	})
	return stats
}

// detachWithGrace returns a context that ignores parent's deadline and
// cancellation until grace has elapsed after parent is done.
func detachWithGrace(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	var timer *time.Timer
	var mu sync.Mutex
	stop := context.AfterFunc(parent, func() {
		mu.Lock()
		defer mu.Unlock()
		if grace <= 0 {
			cancel()
			return
		}
		timer = time.AfterFunc(grace, cancel)
	})
	return ctx, func() {
		stop()
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		cancel()
	}
}
