// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

// Package executor performs authenticated HTTP calls against the provider
// with a per-class circuit breaker, bounded retries and client-side pacing.
//
// Retry policy:
//   - network errors, 5xx and 429 are retried with exponential backoff and
//     jitter; Retry-After overrides the computed delay
//   - a 401 forces one token refresh and one more attempt
//   - other 4xx are returned after a single attempt
//   - every HTTP attempt, including the re-auth retry, counts toward
//     MaxAttempts
//
// Only network errors, 5xx and 429 count as breaker failures.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/simsync/internal/apierr"
	"github.com/tomtom215/simsync/internal/config"
	"github.com/tomtom215/simsync/internal/logging"
	"github.com/tomtom215/simsync/internal/metrics"
	"github.com/tomtom215/simsync/internal/models"
)

// maxErrorBody caps how much of an error response is kept for messages.
const maxErrorBody = 512

// TokenSource supplies bearer tokens. *token.Manager implements it.
type TokenSource interface {
	GetValidToken(ctx context.Context) (*models.Token, error)
	ForceRefresh(ctx context.Context, stale *models.Token) (*models.Token, error)
}

// RequestSpec describes one logical provider call.
type RequestSpec struct {
	Class  string
	Method string
	Path   string
	Query  url.Values
	// Body is JSON-encoded when non-nil.
	Body any
}

// Response is a fully read provider response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &apierr.UpstreamError{StatusCode: r.StatusCode, Message: "undecodable response body", Err: err}
	}
	return nil
}

// Executor runs provider requests.
type Executor struct {
	baseURL     string
	httpClient  *http.Client
	tokens      TokenSource
	retry       config.RetryConfig
	callTimeout time.Duration
	breakers    *breakerSet
	limiter     *rate.Limiter
	recorder    *Recorder
	rand        func() float64
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
}

// Option customizes an Executor.
type Option func(*Executor)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.httpClient = c }
}

// WithRecorder sets the attempt recorder. Without one, attempts are recorded
// into metrics synchronously.
func WithRecorder(r *Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithRateLimit paces attempts at rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(e *Executor) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithSleepFunc replaces the wait between attempts.
func WithSleepFunc(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// WithRandFunc replaces the jitter source, which must return values in [0, 1).
func WithRandFunc(r func() float64) Option {
	return func(e *Executor) { e.rand = r }
}

// New creates an Executor.
func New(cfg *config.Config, tokens TokenSource, opts ...Option) *Executor {
	e := &Executor{
		baseURL:     strings.TrimRight(cfg.Provider.BaseURL, "/"),
		httpClient:  &http.Client{},
		tokens:      tokens,
		retry:       cfg.Retry,
		callTimeout: cfg.Provider.CallTimeout,
		breakers:    newBreakerSet(cfg.Breaker),
		rand:        rand.Float64,
		sleep:       sleepCtx,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.retry.MaxAttempts < 1 {
		e.retry.MaxAttempts = 1
	}
	return e
}

// errBreakerFailure marks a response the breaker should count as a failure.
type errBreakerFailure struct{ status int }

func (e *errBreakerFailure) Error() string { return fmt.Sprintf("provider returned HTTP %d", e.status) }

// Execute performs spec, retrying transient failures.
func (e *Executor) Execute(ctx context.Context, spec RequestSpec) (*Response, error) {
	var body []byte
	if spec.Body != nil {
		var err error
		if body, err = json.Marshal(spec.Body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	log := logging.Ctx(ctx)
	var (
		tok      *models.Token
		reauthed bool
		lastErr  error
	)

	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if tok == nil {
			var err error
			tok, err = e.tokens.GetValidToken(ctx)
			if err != nil {
				if !apierr.IsRetryable(err) {
					return nil, err
				}
				lastErr = err
				if attempt == e.retry.MaxAttempts {
					break
				}
				if waitErr := e.waitBeforeRetry(ctx, attempt, 0, false); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
		}

		resp, outcome, err := e.attempt(ctx, spec, body, tok, attempt)

		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, &apierr.CircuitOpenError{Class: spec.Class}

		case outcome == OutcomeNetworkError:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = &apierr.UpstreamError{Err: err}

		case outcome == OutcomeSuccess:
			return resp, nil

		case outcome == OutcomeUnauthorized:
			authErr := &apierr.AuthError{StatusCode: resp.StatusCode, Message: snippet(resp.Body)}
			if reauthed || attempt == e.retry.MaxAttempts {
				return nil, authErr
			}
			reauthed = true
			lastErr = authErr
			log.Warn().Str("class", spec.Class).Msg("Provider rejected token, forcing refresh")
			fresh, refreshErr := e.tokens.ForceRefresh(ctx, tok)
			if refreshErr != nil {
				return nil, refreshErr
			}
			tok = fresh
			continue // the re-auth retry does not back off

		case outcome == OutcomeClientError:
			return nil, &apierr.UpstreamError{StatusCode: resp.StatusCode, Message: snippet(resp.Body)}

		case outcome == OutcomeRateLimited:
			ra, _ := parseRetryAfter(resp.Header, e.now())
			lastErr = &apierr.RateLimitError{RetryAfter: ra}

		default: // server error
			lastErr = &apierr.UpstreamError{StatusCode: resp.StatusCode, Message: snippet(resp.Body)}
		}

		if attempt == e.retry.MaxAttempts {
			break
		}

		var (
			override time.Duration
			hasHint  bool
		)
		if resp != nil {
			override, hasHint = parseRetryAfter(resp.Header, e.now())
		}
		metrics.ProviderRetries.WithLabelValues(spec.Class).Inc()
		log.Debug().
			Str("class", spec.Class).
			Int("attempt", attempt).
			Int("max_attempts", e.retry.MaxAttempts).
			Err(lastErr).
			Msg("Retrying provider call")
		if err := e.waitBeforeRetry(ctx, attempt, override, hasHint); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

// attempt performs one HTTP round trip through the class breaker.
func (e *Executor) attempt(ctx context.Context, spec RequestSpec, body []byte, tok *models.Token, n int) (*Response, string, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, OutcomeNetworkError, err
		}
	}

	cb := e.breakers.get(spec.Class)
	name := breakerName(spec.Class)
	start := time.Now()

	var resp *Response
	_, err := cb.Execute(func() (*Response, error) {
		r, err := e.roundTrip(ctx, spec, body, tok)
		if err != nil {
			return nil, err
		}
		resp = r
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			return r, &errBreakerFailure{status: r.StatusCode}
		}
		return r, nil
	})
	latency := time.Since(start)

	outcome := classify(resp, err)
	switch {
	case outcome == OutcomeCircuitOpen:
		metrics.CircuitBreakerRequests.WithLabelValues(name, "rejected").Inc()
		logging.Warn().Str("class", spec.Class).Msg("[CIRCUIT BREAKER] Request rejected")
	case err != nil:
		metrics.CircuitBreakerRequests.WithLabelValues(name, "failure").Inc()
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(float64(cb.Counts().ConsecutiveFailures))
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(name, "success").Inc()
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
	}

	rec := AttemptRecord{
		Class:   spec.Class,
		Method:  spec.Method,
		Path:    spec.Path,
		Attempt: n,
		Outcome: outcome,
		Latency: latency,
		At:      start,
	}
	if resp != nil {
		rec.StatusCode = resp.StatusCode
	}
	e.record(rec)

	return resp, outcome, err
}

func classify(resp *Response, err error) string {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return OutcomeCircuitOpen
	}
	if resp == nil {
		return OutcomeNetworkError
	}
	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized:
		return OutcomeUnauthorized
	case code == http.StatusTooManyRequests:
		return OutcomeRateLimited
	case code >= 500:
		return OutcomeServerError
	case code >= 400:
		return OutcomeClientError
	default:
		return OutcomeSuccess
	}
}

func (e *Executor) roundTrip(ctx context.Context, spec RequestSpec, body []byte, tok *models.Token) (*Response, error) {
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}

	reqURL := e.baseURL + spec.Path
	if len(spec.Query) > 0 {
		reqURL += "?" + spec.Query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, spec.Method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", tok.TokenType+" "+tok.AccessToken)
	if cid := logging.CorrelationIDFromContext(ctx); cid != "" {
		req.Header.Set("X-Correlation-ID", cid)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// waitBeforeRetry sleeps after failed attempt n. A Retry-After hint replaces
// the computed backoff.
func (e *Executor) waitBeforeRetry(ctx context.Context, n int, override time.Duration, hasHint bool) error {
	delay := backoffDelay(e.retry, n, e.rand())
	if hasHint {
		delay = override
	}
	return e.sleep(ctx, delay)
}

func (e *Executor) record(rec AttemptRecord) {
	if e.recorder != nil {
		e.recorder.Record(rec)
		return
	}
	metrics.RecordAttempt(rec.Class, rec.Outcome, rec.Latency)
}

// BreakerState reports the breaker state of an endpoint class.
func (e *Executor) BreakerState(class string) string {
	return stateToString(e.breakers.state(class))
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
