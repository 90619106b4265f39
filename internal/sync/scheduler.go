// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/simsync/internal/apierr"
	"github.com/tomtom215/simsync/internal/config"
	"github.com/tomtom215/simsync/internal/logging"
	"github.com/tomtom215/simsync/internal/metrics"
	"github.com/tomtom215/simsync/internal/models"
)

// JobRunner runs one job synchronously. *Orchestrator implements it.
type JobRunner interface {
	RunJob(ctx context.Context, kind models.JobKind) (*models.JobStatus, error)
}

// ErrSchedulerDisabled is returned when scheduled jobs are turned off.
var ErrSchedulerDisabled = errors.New("scheduler disabled")

// Schedule decides when a job runs next.
type Schedule func(now time.Time) time.Time

// Every returns a fixed-interval schedule.
func Every(d time.Duration) Schedule {
	return func(now time.Time) time.Time { return now.Add(d) }
}

// DailyAt returns a schedule firing once a day at hour:00 UTC.
func DailyAt(hour int) Schedule {
	return func(now time.Time) time.Time { return nextDailyRun(now, hour) }
}

// nextDailyRun returns the first hour:00 UTC strictly after now.
func nextDailyRun(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// JobService runs one job kind on its schedule. It implements
// suture.Service; each kind is supervised independently so a panicking job
// cannot stop the others. Ticks that find the job already running are
// skipped, not queued.
type JobService struct {
	runner       JobRunner
	kind         models.JobKind
	schedule     Schedule
	trigger      string
	runOnStartup bool
	nowFunc      func() time.Time
	after        func(d time.Duration) <-chan time.Time

	mu      sync.Mutex
	serving bool
	nextRun time.Time
	lastRun *models.JobStatus
}

// NewJobService creates a scheduled job service.
func NewJobService(runner JobRunner, kind models.JobKind, schedule Schedule, runOnStartup bool) *JobService {
	return &JobService{
		runner:       runner,
		kind:         kind,
		schedule:     schedule,
		trigger:      "custom",
		runOnStartup: runOnStartup,
		nowFunc:      time.Now,
		after:        time.After,
	}
}

// JobServices builds the scheduled services for every job kind from cfg.
func JobServices(runner JobRunner, cfg config.SyncConfig) []*JobService {
	every := func(kind models.JobKind, d time.Duration, onStartup bool) *JobService {
		svc := NewJobService(runner, kind, Every(d), onStartup)
		svc.trigger = "interval[" + d.String() + "]"
		return svc
	}
	cleanup := NewJobService(runner, models.JobCleanup, DailyAt(cfg.CleanupHourUTC), false)
	cleanup.trigger = fmt.Sprintf("daily[%02d:00 UTC]", cfg.CleanupHourUTC)

	return []*JobService{
		every(models.JobInventory, cfg.InventoryInterval, cfg.RunOnStartup),
		every(models.JobUsage, cfg.UsageInterval, cfg.RunOnStartup),
		every(models.JobQuota, cfg.QuotaInterval, cfg.RunOnStartup),
		every(models.JobTokenRefresh, cfg.TokenRefreshInterval, true),
		cleanup,
	}
}

// Serve implements suture.Service.
func (s *JobService) Serve(ctx context.Context) error {
	log := logging.With().Str("job", string(s.kind)).Logger()
	log.Info().Msg("Job schedule started")
	s.setServing(true)
	defer s.setServing(false)

	if s.runOnStartup {
		s.tick(ctx)
	}
	for {
		now := s.nowFunc()
		next := s.schedule(now)
		s.mu.Lock()
		s.nextRun = next
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			log.Info().Msg("Job schedule stopped")
			return ctx.Err()
		case <-s.after(next.Sub(now)):
			s.tick(ctx)
		}
	}
}

func (s *JobService) setServing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serving = v
	if !v {
		s.nextRun = time.Time{}
	}
}

// Status reports the schedule, the next run time while serving and the
// latest run this service started.
func (s *JobService) Status() models.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := models.ScheduledJob{
		Kind:    s.kind,
		Trigger: s.trigger,
		Running: s.serving,
	}
	if !s.nextRun.IsZero() {
		next := s.nextRun.UTC()
		out.NextRunAt = &next
	}
	if s.lastRun != nil {
		last := *s.lastRun
		out.LastRun = &last
	}
	return out
}

func (s *JobService) tick(ctx context.Context) {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	run, err := s.runner.RunJob(ctx, s.kind)
	if run != nil {
		s.mu.Lock()
		s.lastRun = run
		s.mu.Unlock()
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrJobAlreadyRunning):
		metrics.JobSkipped.WithLabelValues(string(s.kind)).Inc()
		logging.Ctx(ctx).Info().Str("job", string(s.kind)).Msg("Previous run still active, skipping tick")
	case ctx.Err() != nil:
	default:
		// Already logged with full stats by the orchestrator.
		logging.Ctx(ctx).Debug().Err(err).Str("job", string(s.kind)).Msg("Scheduled run failed")
	}
}

// String implements fmt.Stringer for suture logs.
func (s *JobService) String() string {
	return "job-" + string(s.kind)
}

// Scheduler reports on the scheduled job services.
type Scheduler struct {
	enabled  bool
	services []*JobService
}

// NewScheduler wraps the job services. A disabled scheduler has none.
func NewScheduler(enabled bool, services []*JobService) *Scheduler {
	return &Scheduler{enabled: enabled, services: services}
}

// Status lists every scheduled job. The scheduler counts as running while
// any of its services is being served.
func (s *Scheduler) Status() models.SchedulerStatus {
	out := models.SchedulerStatus{Enabled: s.enabled, Jobs: []models.ScheduledJob{}}
	if !s.enabled {
		return out
	}
	for _, svc := range s.services {
		st := svc.Status()
		out.Running = out.Running || st.Running
		out.Jobs = append(out.Jobs, st)
	}
	out.TotalJobs = len(out.Jobs)
	return out
}

// Job returns the schedule of one job kind.
func (s *Scheduler) Job(kind string) (models.ScheduledJob, error) {
	if !s.enabled {
		return models.ScheduledJob{}, ErrSchedulerDisabled
	}
	k, err := models.ParseJobKind(kind)
	if err != nil {
		return models.ScheduledJob{}, apierr.NewValidation("kind", err.Error())
	}
	for _, svc := range s.services {
		if svc.kind == k {
			return svc.Status(), nil
		}
	}
	return models.ScheduledJob{}, ErrJobNotFound
}
