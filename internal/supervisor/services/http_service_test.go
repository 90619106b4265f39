// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package services

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

// refusingShutdown serves until Shutdown, which then reports err.
type refusingShutdown struct {
	stop chan struct{}
	err  error
}

func (r *refusingShutdown) ListenAndServe() error {
	<-r.stop
	return http.ErrServerClosed
}

func (r *refusingShutdown) Shutdown(context.Context) error {
	close(r.stop)
	return r.err
}

func TestHTTPServerServiceStopsOnCancel(t *testing.T) {
	server := &http.Server{
		Addr:              "127.0.0.1:0",
		Handler:           http.NotFoundHandler(),
		ReadHeaderTimeout: time.Second,
	}
	svc := NewHTTPServerService(server, 0)
	if svc.shutdownTimeout != 10*time.Second || svc.String() != "http-server" {
		t.Errorf("service = %+v", svc)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestHTTPServerServiceBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	server := &http.Server{Addr: ln.Addr().String(), ReadHeaderTimeout: time.Second}
	err = NewHTTPServerService(server, time.Second).Serve(context.Background())
	if err == nil || !strings.Contains(err.Error(), "http server failed") {
		t.Errorf("Serve() = %v, want a bind failure", err)
	}
}

func TestHTTPServerServiceShutdownError(t *testing.T) {
	shutdownErr := errors.New("connections still open")
	svc := NewHTTPServerService(&refusingShutdown{stop: make(chan struct{}), err: shutdownErr}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Serve(ctx); !errors.Is(err, shutdownErr) {
		t.Errorf("Serve() = %v, want the shutdown error", err)
	}
}

func TestHTTPServerServiceUnderSupervisor(t *testing.T) {
	server := &refusingShutdown{stop: make(chan struct{})}
	sup := suture.New("api", suture.Spec{FailureBackoff: 10 * time.Millisecond, Timeout: time.Second})
	sup.Add(NewHTTPServerService(server, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-errCh

	select {
	case <-server.stop:
	default:
		t.Error("supervisor stop did not shut the server down")
	}
}

type slowDrainer struct {
	delay  time.Duration
	called atomic.Int32
}

func (d *slowDrainer) Shutdown(ctx context.Context) error {
	d.called.Add(1)
	select {
	case <-time.After(d.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDrainService(t *testing.T) {
	t.Run("drains after cancellation", func(t *testing.T) {
		target := &slowDrainer{delay: 10 * time.Millisecond}
		svc := NewDrainService("sync-drain", target, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- svc.Serve(ctx) }()

		time.Sleep(20 * time.Millisecond)
		if target.called.Load() != 0 {
			t.Fatal("Shutdown called before cancellation")
		}
		cancel()

		if err := <-errCh; !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
		if target.called.Load() != 1 {
			t.Errorf("Shutdown calls = %d, want 1", target.called.Load())
		}
	})

	t.Run("reports a drain timeout", func(t *testing.T) {
		target := &slowDrainer{delay: time.Second}
		svc := NewDrainService("sync-drain", target, 20*time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := svc.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Serve() = %v, want DeadlineExceeded", err)
		}
		if svc.String() != "sync-drain" {
			t.Errorf("String() = %q", svc.String())
		}
	})
}
