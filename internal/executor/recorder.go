// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package executor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tomtom215/simsync/internal/logging"
	"github.com/tomtom215/simsync/internal/metrics"
)

// Attempt outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeClientError  = "client_error"
	OutcomeUnauthorized = "unauthorized"
	OutcomeRateLimited  = "rate_limited"
	OutcomeServerError  = "server_error"
	OutcomeNetworkError = "network_error"
	OutcomeCircuitOpen  = "circuit_open"
)

// AttemptRecord describes one HTTP attempt.
type AttemptRecord struct {
	Class      string
	Method     string
	Path       string
	Attempt    int
	Outcome    string
	StatusCode int
	Latency    time.Duration
	At         time.Time
}

// Recorder drains attempt records into metrics and debug logs off the call
// path. Record never blocks: when the buffer is full the record is dropped
// and counted.
type Recorder struct {
	ch      chan AttemptRecord
	dropped atomic.Int64
	handled atomic.Int64
}

// NewRecorder creates a recorder with the given queue capacity.
func NewRecorder(buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Recorder{ch: make(chan AttemptRecord, buffer)}
}

// Record enqueues rec or drops it when the queue is full.
func (r *Recorder) Record(rec AttemptRecord) {
	select {
	case r.ch <- rec:
	default:
		r.dropped.Add(1)
		metrics.AttemptRecordsDropped.Inc()
	}
}

// Dropped returns the number of records lost to a full queue.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Handled returns the number of records drained so far.
func (r *Recorder) Handled() int64 { return r.handled.Load() }

// Serve drains the queue until ctx is cancelled. It implements
// suture.Service.
func (r *Recorder) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return ctx.Err()
		case rec := <-r.ch:
			r.handle(rec)
		}
	}
}

func (r *Recorder) String() string { return "attempt-recorder" }

func (r *Recorder) drain() {
	for {
		select {
		case rec := <-r.ch:
			r.handle(rec)
		default:
			return
		}
	}
}

func (r *Recorder) handle(rec AttemptRecord) {
	metrics.RecordAttempt(rec.Class, rec.Outcome, rec.Latency)
	logging.Debug().
		Str("class", rec.Class).
		Str("method", rec.Method).
		Str("path", rec.Path).
		Int("attempt", rec.Attempt).
		Str("outcome", rec.Outcome).
		Int("status", rec.StatusCode).
		Dur("latency", rec.Latency).
		Msg("Provider attempt")
	r.handled.Add(1)
}
