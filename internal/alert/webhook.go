// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package alert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/goccy/go-json"

	"github.com/tomtom215/simsync/internal/logging"
	"github.com/tomtom215/simsync/internal/models"
)

// WebhookSink POSTs events as JSON. Network errors, 5xx and 429 are retried
// with exponential backoff.
type WebhookSink struct {
	url    string
	client *http.Client
	exec   failsafe.Executor[int]
}

// WebhookOptions configures a WebhookSink.
type WebhookOptions struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Client     *http.Client
}

// NewWebhookSink creates a WebhookSink.
func NewWebhookSink(opts WebhookOptions) *WebhookSink {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 200 * time.Millisecond
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = 5 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	retry := retrypolicy.NewBuilder[int]().
		WithBackoff(opts.BaseDelay, opts.MaxDelay).
		WithMaxRetries(opts.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(status int, err error) bool {
			return err != nil || status >= 500 || status == http.StatusTooManyRequests
		}).
		Build()

	return &WebhookSink{url: opts.URL, client: client, exec: failsafe.With[int](retry)}
}

// Name implements Sink.
func (w *WebhookSink) Name() string { return "webhook" }

type webhookPayload struct {
	Source string                `json:"source"`
	Event  models.ThresholdEvent `json:"event"`
}

// Deliver implements Sink.
func (w *WebhookSink) Deliver(ctx context.Context, ev models.ThresholdEvent) error {
	body, err := json.Marshal(webhookPayload{Source: "simsync", Event: ev})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	status, err := w.exec.WithContext(ctx).Get(func() (int, error) {
		return w.post(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", status)
	}
	return nil
}

func (w *WebhookSink) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if cid := logging.CorrelationIDFromContext(ctx); cid != "" {
		req.Header.Set("X-Correlation-ID", cid)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
