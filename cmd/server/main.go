// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tomtom215/simsync/internal/alert"
	"github.com/tomtom215/simsync/internal/api"
	"github.com/tomtom215/simsync/internal/config"
	"github.com/tomtom215/simsync/internal/executor"
	"github.com/tomtom215/simsync/internal/kv"
	"github.com/tomtom215/simsync/internal/logging"
	"github.com/tomtom215/simsync/internal/monitor"
	"github.com/tomtom215/simsync/internal/provider"
	"github.com/tomtom215/simsync/internal/store"
	"github.com/tomtom215/simsync/internal/supervisor"
	"github.com/tomtom215/simsync/internal/supervisor/services"
	"github.com/tomtom215/simsync/internal/sync"
	"github.com/tomtom215/simsync/internal/token"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("SIMSync failed")
	}
}

//nolint:gocyclo // sequential setup steps
func run() error {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("provider", cfg.Provider.BaseURL).
		Str("kv_backend", cfg.KV.Backend).
		Str("db_driver", cfg.Database.Driver).
		Bool("sync_enabled", cfg.Sync.Enabled).
		Msg("Starting SIMSync with supervisor tree")

	kvStore, err := kv.Open(&cfg.KV)
	if err != nil {
		return fmt.Errorf("open kv store: %w", err)
	}
	defer func() {
		if err := kvStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing KV store")
		}
	}()
	keys := kv.Keys{Prefix: cfg.KV.KeyPrefix}

	db, err := store.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	exchanger := token.NewClientCredentialsExchanger(
		strings.TrimRight(cfg.Provider.BaseURL, "/")+cfg.Provider.TokenPath,
		cfg.Provider.ClientID,
		cfg.Provider.ClientSecret,
		&http.Client{Timeout: cfg.Provider.CallTimeout},
		cfg.Token.DefaultTTL,
	)
	tokens := token.NewManager(kvStore, keys, exchanger, cfg.Token)

	recorder := executor.NewRecorder(cfg.Provider.RecorderBuffer)
	exec := executor.New(cfg, tokens,
		executor.WithRecorder(recorder),
		executor.WithRateLimit(cfg.Provider.RateLimitPerSecond, cfg.Provider.RateLimitBurst),
	)
	client := provider.New(exec, provider.WithDefaultThreshold(cfg.Monitor.DefaultThresholdPercentage))

	sinks := []alert.Sink{alert.LogSink{}, alert.NewStoreSink(db)}
	if cfg.Alert.WebhookURL != "" {
		sinks = append(sinks, alert.NewWebhookSink(alert.WebhookOptions{
			URL:        cfg.Alert.WebhookURL,
			Timeout:    cfg.Alert.WebhookTimeout,
			MaxRetries: cfg.Alert.WebhookMaxRetries,
		}))
		logging.Info().Msg("Webhook alert sink enabled")
	}
	sink := alert.NewMultiSink(sinks...)

	mon := monitor.New(db, client, kvStore, keys, sink, cfg.Monitor)
	orch := sync.New(db, client, tokens, mon, kvStore, keys, cfg, sync.WithAlertSink(sink))

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Sync.JobTimeout + 5*time.Second,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	// Core layer
	tree.AddCoreService(recorder)
	tree.AddCoreService(services.NewDrainService("sync-drain", orch, cfg.Provider.CallTimeout+5*time.Second))

	// Jobs layer
	var jobs []*sync.JobService
	if cfg.Sync.Enabled {
		jobs = sync.JobServices(orch, cfg.Sync)
		for _, svc := range jobs {
			tree.AddJobService(svc)
		}
		logging.Info().Int("count", len(jobs)).Msg("Job services added to supervisor tree")
	} else {
		logging.Info().Msg("Scheduled sync disabled (SYNC_ENABLED=false); jobs run only when triggered")
	}
	scheduler := sync.NewScheduler(cfg.Sync.Enabled, jobs)

	// API layer
	handler := api.NewHandler(orch, scheduler, db, client,
		api.ReadinessCheck{Name: "database", Pinger: db},
		api.ReadinessCheck{Name: "kv", Pinger: kvStore},
	)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(handler, api.RouterConfigFrom(&cfg.Server)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	var serveErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor to finish...")
		serveErr = <-errCh
	case serveErr = <-errCh:
	}
	stop()
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		logging.Error().Err(serveErr).Msg("Supervisor tree error")
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}

	logging.Info().Msg("SIMSync stopped")
	return nil
}
