// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/simsync/internal/apierr"
	"github.com/tomtom215/simsync/internal/config"
	"github.com/tomtom215/simsync/internal/metrics"
	"github.com/tomtom215/simsync/internal/models"
)

func TestNextDailyRun(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		hour int
		want time.Time
	}{
		{"before hour", time.Date(2026, 3, 1, 1, 30, 0, 0, time.UTC), 2, time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)},
		{"exactly at hour", time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC), 2, time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)},
		{"after hour", time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC), 2, time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)},
		{"month rollover", time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC), 0, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"non-UTC input", time.Date(2026, 3, 1, 3, 30, 0, 0, time.FixedZone("CET", 3600)), 2, time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC).AddDate(0, 0, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextDailyRun(tt.now, tt.hour); !got.Equal(tt.want) {
				t.Errorf("nextDailyRun() = %v, want %v", got, tt.want)
			}
		})
	}
}

type scriptedRunner struct {
	mu    sync.Mutex
	kinds []models.JobKind
	err   error
	ran   chan struct{}
}

func (r *scriptedRunner) RunJob(_ context.Context, kind models.JobKind) (*models.JobStatus, error) {
	r.mu.Lock()
	r.kinds = append(r.kinds, kind)
	r.mu.Unlock()
	r.ran <- struct{}{}
	if r.err != nil {
		return nil, r.err
	}
	return &models.JobStatus{Kind: kind, State: models.JobCommitted}, nil
}

// manualClock replaces time.After so ticks fire only when the test says so.
type manualClock struct {
	waits chan time.Duration
	fire  chan time.Time
}

func newManualClock() *manualClock {
	return &manualClock{waits: make(chan time.Duration, 16), fire: make(chan time.Time)}
}

func (c *manualClock) after(d time.Duration) <-chan time.Time {
	c.waits <- d
	return c.fire
}

func TestJobServiceTicksOnSchedule(t *testing.T) {
	runner := &scriptedRunner{ran: make(chan struct{}, 8)}
	clock := newManualClock()
	svc := NewJobService(runner, models.JobUsage, Every(time.Hour), true)
	svc.after = clock.after

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	<-runner.ran // startup run
	if d := <-clock.waits; d != time.Hour {
		t.Errorf("wait = %v, want 1h", d)
	}
	clock.fire <- time.Now()
	<-runner.ran
	<-clock.waits

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v, want context.Canceled", err)
	}
	if len(runner.kinds) != 2 || runner.kinds[1] != models.JobUsage {
		t.Errorf("runs = %v", runner.kinds)
	}
}

func TestJobServiceSkipsBusyTick(t *testing.T) {
	runner := &scriptedRunner{ran: make(chan struct{}, 8), err: ErrJobAlreadyRunning}
	clock := newManualClock()
	svc := NewJobService(runner, models.JobQuota, Every(time.Minute), false)
	svc.after = clock.after

	skipped := metrics.JobSkipped.WithLabelValues(string(models.JobQuota))
	before := testutil.ToFloat64(skipped)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Serve(ctx) }()

	<-clock.waits
	clock.fire <- time.Now()
	<-runner.ran
	<-clock.waits // back to waiting: the busy tick was not retried

	if got := testutil.ToFloat64(skipped) - before; got != 1 {
		t.Errorf("skipped ticks = %v, want 1", got)
	}
}

func TestJobServicesCoverEveryKind(t *testing.T) {
	cfg := config.SyncConfig{
		InventoryInterval:    15 * time.Minute,
		UsageInterval:        time.Hour,
		QuotaInterval:        30 * time.Minute,
		TokenRefreshInterval: time.Minute,
		CleanupHourUTC:       2,
	}
	services := JobServices(&scriptedRunner{}, cfg)
	if len(services) != len(models.AllJobKinds) {
		t.Fatalf("services = %d, want %d", len(services), len(models.AllJobKinds))
	}
	for i, svc := range services {
		if svc.kind != models.AllJobKinds[i] {
			t.Errorf("service %d kind = %s", i, svc.kind)
		}
		if svc.kind == models.JobTokenRefresh && !svc.runOnStartup {
			t.Error("token refresh must run on startup")
		}
	}
	if got := services[0].String(); got != "job-inventory" {
		t.Errorf("String() = %q", got)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if next := services[4].schedule(now); !next.Equal(time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)) {
		t.Errorf("cleanup next = %v", next)
	}
}

func TestJobServiceStatusReportsNextAndLastRun(t *testing.T) {
	runner := &scriptedRunner{ran: make(chan struct{}, 8)}
	clock := newManualClock()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewJobService(runner, models.JobUsage, Every(time.Hour), true)
	svc.after = clock.after
	svc.nowFunc = func() time.Time { return now }

	if st := svc.Status(); st.Running || st.NextRunAt != nil || st.LastRun != nil {
		t.Errorf("status before Serve = %+v", st)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	<-runner.ran
	<-clock.waits

	st := svc.Status()
	if !st.Running {
		t.Error("Running = false while serving")
	}
	if st.NextRunAt == nil || !st.NextRunAt.Equal(now.Add(time.Hour)) {
		t.Errorf("NextRunAt = %v, want %v", st.NextRunAt, now.Add(time.Hour))
	}
	if st.LastRun == nil || st.LastRun.State != models.JobCommitted {
		t.Errorf("LastRun = %+v, want the committed startup run", st.LastRun)
	}

	cancel()
	<-done
	if st := svc.Status(); st.Running || st.NextRunAt != nil {
		t.Errorf("status after stop = %+v", st)
	}
}

func TestSchedulerStatus(t *testing.T) {
	cfg := config.SyncConfig{
		InventoryInterval:    15 * time.Minute,
		UsageInterval:        time.Hour,
		QuotaInterval:        30 * time.Minute,
		TokenRefreshInterval: time.Minute,
		CleanupHourUTC:       2,
	}
	sched := NewScheduler(true, JobServices(&scriptedRunner{}, cfg))

	st := sched.Status()
	if !st.Enabled || st.Running || st.TotalJobs != len(models.AllJobKinds) {
		t.Errorf("status = %+v", st)
	}
	if st.Jobs[0].Trigger != "interval[15m0s]" || st.Jobs[4].Trigger != "daily[02:00 UTC]" {
		t.Errorf("triggers = %q, %q", st.Jobs[0].Trigger, st.Jobs[4].Trigger)
	}

	job, err := sched.Job("cleanup")
	if err != nil || job.Kind != models.JobCleanup {
		t.Errorf("Job(cleanup) = %+v, %v", job, err)
	}
	var ve *apierr.ValidationError
	if _, err := sched.Job("nightly"); !errors.As(err, &ve) {
		t.Errorf("Job(nightly) error = %v, want ValidationError", err)
	}

	disabled := NewScheduler(false, nil)
	if st := disabled.Status(); st.Enabled || len(st.Jobs) != 0 {
		t.Errorf("disabled status = %+v", st)
	}
	if _, err := disabled.Job("usage"); !errors.Is(err, ErrSchedulerDisabled) {
		t.Errorf("disabled Job() error = %v, want ErrSchedulerDisabled", err)
	}
}
