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
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/simsync/internal/alert"
	"github.com/tomtom215/simsync/internal/apierr"
	"github.com/tomtom215/simsync/internal/config"
	"github.com/tomtom215/simsync/internal/kv"
	"github.com/tomtom215/simsync/internal/logging"
	"github.com/tomtom215/simsync/internal/metrics"
	"github.com/tomtom215/simsync/internal/models"
	"github.com/tomtom215/simsync/internal/store"
)

var (
	// ErrJobAlreadyRunning is returned when another run of the same kind holds
	// the overlap lease, on this replica or any other.
	ErrJobAlreadyRunning = errors.New("job already running")

	// ErrJobNotFound is returned by GetJobStatus for an unknown job id.
	ErrJobNotFound = errors.New("job not found")
)

// Store is the persistence the jobs need. *store.Store implements it.
type Store interface {
	UpsertSIM(ctx context.Context, sim *models.SimRecord) error
	GetSIM(ctx context.Context, iccid string) (*models.SimRecord, error)
	FlagMissingSIMs(ctx context.Context, syncedBefore, at time.Time) (int, error)
	ListActiveSIMs(ctx context.Context) ([]models.SimRecord, error)

	CommitUsage(ctx context.Context, iccid string, samples []models.UsageSample, position time.Time) error
	GetCheckpoint(ctx context.Context, kind models.JobKind, entityID string) (time.Time, bool, error)

	GetQuota(ctx context.Context, iccid string, qt models.QuotaType) (*models.QuotaState, error)
	UpsertQuota(ctx context.Context, q *models.QuotaState) error

	CreateJobRun(ctx context.Context, run *models.JobStatus) error
	FinishJobRun(ctx context.Context, id string, state models.JobState, finishedAt time.Time, stats models.JobStats, errMsg string) error
	GetJobRun(ctx context.Context, id string) (*models.JobStatus, error)
	ExpireJobRuns(ctx context.Context, cutoff, at time.Time) (int64, error)

	DeleteUsageBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteJobRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	MirrorEvents(ctx context.Context, events []models.SimEvent) (int, error)
}

// Provider is the subset of the provider client the jobs call.
// *provider.Client implements it.
type Provider interface {
	ListSIMs(ctx context.Context, page, pageSize int, filters models.SimFilters) (*models.SimPage, error)
	GetSIM(ctx context.Context, iccid string) (*models.SimRecord, error)
	GetEvents(ctx context.Context, iccid string, page, pageSize int) ([]models.SimEvent, error)
	GetUsage(ctx context.Context, iccid string, window models.Window) ([]models.UsageSample, error)
	GetQuota(ctx context.Context, iccid string, qt models.QuotaType) (*models.QuotaState, error)
}

// Tokens is the token manager surface. *token.Manager implements it.
type Tokens interface {
	GetValidToken(ctx context.Context) (*models.Token, error)
	PreRefresh(ctx context.Context) (bool, error)
}

// QuotaHandler turns quota snapshots into events. *monitor.Monitor
// implements it.
type QuotaHandler interface {
	Handle(ctx context.Context, prev, curr *models.QuotaState) ([]models.ThresholdEvent, error)
}

// Orchestrator runs sync jobs. A run of a given kind executes only while it
// holds that kind's lease in the shared KV store, so runs never overlap
// across replicas. The lease outlives the job deadline by the in-flight call
// grace plus jobLeaseSlack for recording the result.
type Orchestrator struct {
	store    Store
	provider Provider
	tokens   Tokens
	monitor  QuotaHandler
	sink     alert.Sink
	kv       kv.Store
	keys     kv.Keys

	cfg             config.SyncConfig
	callTimeout     time.Duration
	tokenFatalAfter int

	nowFunc func() time.Time

	// background runs started by TriggerSync
	runCtx     context.Context
	cancelRuns context.CancelFunc
	wg         sync.WaitGroup

	tokenFailures atomic.Int32
}

// jobLeaseSlack covers recording the final run state after the grace.
const jobLeaseSlack = 30 * time.Second

// leaseTTL is the longest an admitted run can stay alive.
func (o *Orchestrator) leaseTTL() time.Duration {
	return o.cfg.JobTimeout + o.callTimeout + jobLeaseSlack
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithNowFunc replaces the clock.
func WithNowFunc(now func() time.Time) Option {
	return func(o *Orchestrator) { o.nowFunc = now }
}

// WithAlertSink sets the sink that receives auth failure alerts.
func WithAlertSink(sink alert.Sink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// New creates an Orchestrator.
func New(st Store, prov Provider, tokens Tokens, mon QuotaHandler, kvStore kv.Store, keys kv.Keys, cfg *config.Config, opts ...Option) *Orchestrator {
	runCtx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:           st,
		provider:        prov,
		tokens:          tokens,
		monitor:         mon,
		kv:              kvStore,
		keys:            keys,
		cfg:             cfg.Sync,
		callTimeout:     cfg.Provider.CallTimeout,
		tokenFatalAfter: cfg.Token.FatalAfter,
		nowFunc:         time.Now,
		runCtx:          runCtx,
		cancelRuns:      cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.Concurrency < 1 {
		o.cfg.Concurrency = 1
	}
	if o.cfg.PageSize < 1 {
		o.cfg.PageSize = 100
	}
	return o
}

// TriggerSync starts a run of kind in the background and returns its job id.
// The run is persisted as RUNNING before TriggerSync returns.
func (o *Orchestrator) TriggerSync(ctx context.Context, kind string) (string, error) {
	k, err := models.ParseJobKind(kind)
	if err != nil {
		return "", apierr.NewValidation("kind", err.Error())
	}

	lease, run, err := o.admit(ctx, k)
	if err != nil {
		return "", err
	}

	// The run outlives the triggering request but keeps its correlation id.
	bg := o.runCtx
	if cid := logging.CorrelationIDFromContext(ctx); cid != "" {
		bg = logging.ContextWithCorrelationID(bg, cid)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(bg, lease, run)
	}()
	return run.ID, nil
}

// RunJob runs kind synchronously and returns the finished run. Scheduled
// ticks use it. A run that ends FAILED is returned together with an error.
func (o *Orchestrator) RunJob(ctx context.Context, kind models.JobKind) (*models.JobStatus, error) {
	lease, run, err := o.admit(ctx, kind)
	if err != nil {
		return nil, err
	}
	o.execute(ctx, lease, run)
	if run.State == models.JobFailed {
		return run, fmt.Errorf("%s job failed: %s", kind, run.Error)
	}
	return run, nil
}

// GetJobStatus returns a run by id.
func (o *Orchestrator) GetJobStatus(ctx context.Context, jobID string) (*models.JobStatus, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, ErrJobNotFound
	}
	run, err := o.store.GetJobRun(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Shutdown cancels background runs and waits for them to record their final
// state, or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancelRuns()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every background run has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// admit takes the overlap lease and persists a RUNNING run.
func (o *Orchestrator) admit(ctx context.Context, kind models.JobKind) (*kv.Lease, *models.JobStatus, error) {
	lease, ok, err := kv.TryAcquire(ctx, o.kv, o.keys.JobLock(string(kind)), o.leaseTTL())
	if err != nil {
		return nil, nil, fmt.Errorf("acquire %s job lease: %w", kind, err)
	}
	if !ok {
		return nil, nil, ErrJobAlreadyRunning
	}

	run := &models.JobStatus{
		ID:        uuid.NewString(),
		Kind:      kind,
		State:     models.JobRunning,
		StartedAt: o.nowFunc().UTC(),
	}
	if err := o.store.CreateJobRun(ctx, run); err != nil {
		o.release(ctx, lease)
		return nil, nil, err
	}
	return lease, run, nil
}

// execute runs an admitted job to a terminal state. run is updated in place.
func (o *Orchestrator) execute(ctx context.Context, lease *kv.Lease, run *models.JobStatus) {
	defer o.release(ctx, lease)

	ctx = logging.ContextWithJobID(ctx, run.ID)
	log := logging.Ctx(ctx).With().Str("job", string(run.Kind)).Logger()
	log.Info().Msg("Job started")

	admitCtx, cancel := context.WithTimeout(ctx, o.cfg.JobTimeout)
	defer cancel()

	stats, err := o.dispatch(admitCtx, run.Kind)

	finished := o.nowFunc().UTC()
	stats.DurationSeconds = finished.Sub(run.StartedAt).Seconds()
	run.Stats = stats
	run.FinishedAt = &finished
	run.State = models.JobCommitted
	if err != nil {
		run.State = models.JobFailed
		run.Error = err.Error()
	}

	// The final state is recorded even when the job was cancelled.
	if ferr := o.store.FinishJobRun(context.WithoutCancel(ctx), run.ID, run.State, finished, stats, run.Error); ferr != nil {
		log.Error().Err(ferr).Msg("Failed to record job result")
	}
	metrics.RecordJobRun(string(run.Kind), string(run.State), finished.Sub(run.StartedAt), stats.Failed, stats.Upserted)

	event := log.Info()
	if err != nil {
		event = log.Error().Err(err)
	}
	event.
		Str("state", string(run.State)).
		Int("processed", stats.Processed).
		Int("failed", stats.Failed).
		Int("unprocessed", stats.Unprocessed).
		Float64("duration_seconds", stats.DurationSeconds).
		Msg("Job finished")
}

func (o *Orchestrator) dispatch(ctx context.Context, kind models.JobKind) (models.JobStats, error) {
	switch kind {
	case models.JobInventory:
		return o.runInventory(ctx)
	case models.JobUsage:
		return o.runUsage(ctx)
	case models.JobQuota:
		return o.runQuota(ctx)
	case models.JobTokenRefresh:
		return o.runTokenRefresh(ctx)
	case models.JobCleanup:
		return o.runCleanup(ctx)
	default:
		return models.JobStats{}, fmt.Errorf("unknown job kind %q", kind)
	}
}

func (o *Orchestrator) release(ctx context.Context, lease *kv.Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("key", lease.Key()).Msg("Failed to release job lease")
	}
}
