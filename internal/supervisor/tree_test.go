// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSupervisorTreeConstruction(t *testing.T) {
	t.Run("creates hierarchical supervisor tree", func(t *testing.T) {
		tree, err := NewSupervisorTree(quietLogger(), TreeConfig{
			FailureThreshold: 5,
			FailureBackoff:   time.Second,
			ShutdownTimeout:  10 * time.Second,
		})
		if err != nil {
			t.Fatalf("failed to create tree: %v", err)
		}
		if tree.Root() == nil {
			t.Error("root supervisor should not be nil")
		}
	})

	t.Run("applies default values for zero config", func(t *testing.T) {
		tree, err := NewSupervisorTree(quietLogger(), TreeConfig{})
		if err != nil {
			t.Fatalf("failed to create tree: %v", err)
		}
		if tree.config != DefaultTreeConfig() {
			t.Errorf("config = %+v, want defaults %+v", tree.config, DefaultTreeConfig())
		}
	})
}

func TestSupervisorTreeLifecycle(t *testing.T) {
	tree, err := NewSupervisorTree(quietLogger(), TreeConfig{
		FailureBackoff:  100 * time.Millisecond,
		ShutdownTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}

	core := NewMockService("mock-recorder")
	job := NewMockService("mock-job")
	api := NewMockService("mock-api")
	tree.AddCoreService(core)
	tree.AddJobService(job)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	time.Sleep(100 * time.Millisecond)
	for _, svc := range []*MockService{core, job, api} {
		if svc.StartCount() < 1 {
			t.Errorf("%s was not started", svc)
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not shut down in time")
	}
	for _, svc := range []*MockService{core, job, api} {
		if svc.StopCount() != svc.StartCount() {
			t.Errorf("%s started %d times but stopped %d times", svc, svc.StartCount(), svc.StopCount())
		}
	}
}

func TestSupervisorTreeFailureHandling(t *testing.T) {
	t.Run("failing job is restarted without touching the api", func(t *testing.T) {
		tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{
			FailureThreshold: 10,
			FailureBackoff:   10 * time.Millisecond,
			ShutdownTimeout:  time.Second,
		})

		failing := NewMockService("job-usage")
		failing.SetFailCount(2)
		stable := NewMockService("http-server")
		tree.AddJobService(failing)
		tree.AddAPIService(stable)

		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		go func() { _ = tree.Serve(ctx) }()
		time.Sleep(200 * time.Millisecond)

		if failing.StartCount() < 3 {
			t.Errorf("expected at least 3 starts for failing job, got %d", failing.StartCount())
		}
		if stable.StartCount() != 1 {
			t.Errorf("api service started %d times, want 1", stable.StartCount())
		}
	})

	t.Run("panicking job is restarted", func(t *testing.T) {
		tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{
			FailureBackoff:  10 * time.Millisecond,
			ShutdownTimeout: time.Second,
		})

		job := NewMockService("job-quota")
		job.PanicOnce()
		tree.AddJobService(job)

		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		go func() { _ = tree.Serve(ctx) }()
		time.Sleep(150 * time.Millisecond)

		if job.StartCount() < 2 {
			t.Errorf("expected restart after panic, got %d starts", job.StartCount())
		}
	})
}

func TestRemoveJobService(t *testing.T) {
	tree, _ := NewSupervisorTree(quietLogger(), TreeConfig{ShutdownTimeout: time.Second})
	job := NewMockService("job-cleanup")
	token := tree.AddJobService(job)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tree.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)

	if err := tree.RemoveJobService(token); err != nil {
		t.Fatalf("RemoveJobService: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if job.StopCount() < 1 {
		t.Error("removed job was not stopped")
	}
}

func TestDefaultTreeConfig(t *testing.T) {
	config := DefaultTreeConfig()
	if config.FailureThreshold != 5.0 || config.FailureDecay != 30.0 {
		t.Errorf("failure params = %v/%v", config.FailureThreshold, config.FailureDecay)
	}
	if config.FailureBackoff != 15*time.Second || config.ShutdownTimeout != 10*time.Second {
		t.Errorf("timings = %v/%v", config.FailureBackoff, config.ShutdownTimeout)
	}
}
