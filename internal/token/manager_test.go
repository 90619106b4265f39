// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/tomtom215/simsync/internal/apierr"
	"github.com/tomtom215/simsync/internal/config"
	"github.com/tomtom215/simsync/internal/kv"
	"github.com/tomtom215/simsync/internal/models"
)

var testKeys = kv.Keys{Prefix: "simsync"}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// countingExchanger issues tokens valid for ttl from clock.Now().
type countingExchanger struct {
	calls atomic.Int32
	clock func() time.Time
	ttl   time.Duration
	delay time.Duration
	err   error
}

func (e *countingExchanger) Exchange(ctx context.Context) (*models.Token, error) {
	n := e.calls.Add(1)
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.err != nil {
		return nil, e.err
	}
	now := e.clock()
	return &models.Token{
		AccessToken: fmt.Sprintf("token-%d", n),
		TokenType:   "Bearer",
		IssuedAt:    now,
		ExpiresAt:   now.Add(e.ttl),
	}, nil
}

func testTokenConfig() config.TokenConfig {
	return config.TokenConfig{
		SafetyMargin:        60 * time.Second,
		LockTTL:             300 * time.Second,
		PollAttempts:        5,
		PollInitialDelay:    100 * time.Millisecond,
		PreRefreshThreshold: 10 * time.Minute,
	}
}

func newRedisStore(t *testing.T) kv.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return kv.NewRedis(client)
}

func TestGetValidTokenCachesUntilSafetyMargin(t *testing.T) {
	store := newRedisStore(t)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	ex := &countingExchanger{clock: clock.Now, ttl: 3600 * time.Second}
	m := NewManager(store, testKeys, ex, testTokenConfig(), WithNowFunc(clock.Now))
	ctx := context.Background()

	first, err := m.GetValidToken(ctx)
	if err != nil {
		t.Fatalf("GetValidToken: %v", err)
	}
	if first.Version != 1 {
		t.Errorf("Version = %d, want 1", first.Version)
	}

	// T+1000s: 2600s left, well outside the margin.
	clock.Set(t0.Add(1000 * time.Second))
	tok, err := m.GetValidToken(ctx)
	if err != nil {
		t.Fatalf("GetValidToken at T+1000: %v", err)
	}
	if tok.AccessToken != first.AccessToken || ex.calls.Load() != 1 {
		t.Errorf("T+1000 should reuse the cached token; exchanges = %d", ex.calls.Load())
	}

	// T+3550s: 50s left, inside the 60s margin.
	clock.Set(t0.Add(3550 * time.Second))
	tok, err = m.GetValidToken(ctx)
	if err != nil {
		t.Fatalf("GetValidToken at T+3550: %v", err)
	}
	if tok.AccessToken == first.AccessToken {
		t.Error("T+3550 should return a refreshed token")
	}
	if ex.calls.Load() != 2 {
		t.Errorf("exchanges = %d, want 2", ex.calls.Load())
	}
	if tok.Version != 2 {
		t.Errorf("Version = %d, want 2", tok.Version)
	}
}

func TestGetValidTokenSingleExchangeAcrossReplicas(t *testing.T) {
	store := newRedisStore(t)
	ex := &countingExchanger{clock: time.Now, ttl: time.Hour, delay: 50 * time.Millisecond}

	replicas := []*Manager{
		NewManager(store, testKeys, ex, testTokenConfig()),
		NewManager(store, testKeys, ex, testTokenConfig()),
		NewManager(store, testKeys, ex, testTokenConfig()),
	}

	var wg sync.WaitGroup
	tokens := make(chan string, 60)
	errs := make(chan error, 60)
	for _, m := range replicas {
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(m *Manager) {
				defer wg.Done()
				tok, err := m.GetValidToken(context.Background())
				if err != nil {
					errs <- err
					return
				}
				tokens <- tok.AccessToken
			}(m)
		}
	}
	wg.Wait()
	close(tokens)
	close(errs)

	for err := range errs {
		t.Errorf("GetValidToken error: %v", err)
	}
	if n := ex.calls.Load(); n != 1 {
		t.Errorf("exchanges = %d, want exactly 1", n)
	}
	seen := map[string]bool{}
	for tok := range tokens {
		seen[tok] = true
	}
	if len(seen) != 1 {
		t.Errorf("callers received %d distinct tokens, want 1", len(seen))
	}
}

func TestRefreshSurvivesStartingCallerDeadline(t *testing.T) {
	store := newRedisStore(t)
	ex := &countingExchanger{clock: time.Now, ttl: time.Hour, delay: 200 * time.Millisecond}
	m := NewManager(store, testKeys, ex, testTokenConfig())

	shortErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := m.GetValidToken(ctx)
		shortErr <- err
	}()

	deadline := time.Now().Add(time.Second)
	for ex.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ex.calls.Load() == 0 {
		t.Fatal("exchange never started")
	}

	// Joins the flight started by the short-deadline caller.
	tok, err := m.GetValidToken(context.Background())
	if err != nil {
		t.Fatalf("GetValidToken without deadline: %v", err)
	}
	if tok.AccessToken != "token-1" {
		t.Errorf("AccessToken = %q, want token-1", tok.AccessToken)
	}
	if err := <-shortErr; !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("short-deadline caller error = %v, want context.DeadlineExceeded", err)
	}
	if n := ex.calls.Load(); n != 1 {
		t.Errorf("exchanges = %d, want 1", n)
	}

	// The detached flight finished and cached the token.
	cached, err := m.GetValidToken(context.Background())
	if err != nil || cached.AccessToken != "token-1" {
		t.Errorf("cached token = %+v, %v", cached, err)
	}
}

func TestRefreshTimeoutWhenLeaseHeld(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	// A crashed replica left the lease behind.
	if _, err := store.SetNX(ctx, testKeys.TokenRefreshLock(), "other", time.Minute); err != nil {
		t.Fatal(err)
	}

	var waits []time.Duration
	ex := &countingExchanger{clock: time.Now, ttl: time.Hour}
	m := NewManager(store, testKeys, ex, testTokenConfig(),
		WithSleepFunc(func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		}))

	_, err := m.GetValidToken(ctx)
	var rt *apierr.RefreshTimeoutError
	if !errors.As(err, &rt) {
		t.Fatalf("error = %v, want RefreshTimeoutError", err)
	}
	if ex.calls.Load() != 0 {
		t.Errorf("exchanges = %d, want 0 while another holder owns the lease", ex.calls.Load())
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, 1600 * time.Millisecond}
	if len(waits) != len(want) {
		t.Fatalf("poll waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait %d = %v, want %v", i, waits[i], want[i])
		}
	}
	if rt.Waited != 3100*time.Millisecond {
		t.Errorf("Waited = %v, want 3.1s", rt.Waited)
	}
}

func TestForceRefresh(t *testing.T) {
	store := newRedisStore(t)
	ex := &countingExchanger{clock: time.Now, ttl: time.Hour}
	m := NewManager(store, testKeys, ex, testTokenConfig())
	ctx := context.Background()

	stale, err := m.GetValidToken(ctx)
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := m.ForceRefresh(ctx, stale)
	if err != nil {
		t.Fatalf("ForceRefresh: %v", err)
	}
	if fresh.AccessToken == stale.AccessToken {
		t.Error("ForceRefresh should replace a rejected token even if it has not expired")
	}

	// A second caller holding the same rejected token gets the new one
	// without another exchange.
	again, err := m.ForceRefresh(ctx, stale)
	if err != nil {
		t.Fatal(err)
	}
	if again.AccessToken != fresh.AccessToken || ex.calls.Load() != 2 {
		t.Errorf("second ForceRefresh exchanged again; calls = %d", ex.calls.Load())
	}
}

func TestPreRefresh(t *testing.T) {
	store := newRedisStore(t)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	ex := &countingExchanger{clock: clock.Now, ttl: 3600 * time.Second}
	m := NewManager(store, testKeys, ex, testTokenConfig(), WithNowFunc(clock.Now))
	ctx := context.Background()

	// Nothing cached: pre-refresh fetches the first token.
	refreshed, err := m.PreRefresh(ctx)
	if err != nil || !refreshed {
		t.Fatalf("PreRefresh(empty) = %v, %v", refreshed, err)
	}

	clock.Set(t0.Add(3000 * time.Second)) // exactly 10m left
	if refreshed, _ := m.PreRefresh(ctx); refreshed {
		t.Error("PreRefresh with 10m left should not refresh")
	}

	clock.Set(t0.Add(3100 * time.Second)) // 500s left
	refreshed, err = m.PreRefresh(ctx)
	if err != nil || !refreshed {
		t.Fatalf("PreRefresh(500s left) = %v, %v", refreshed, err)
	}
	if ex.calls.Load() != 2 {
		t.Errorf("exchanges = %d, want 2", ex.calls.Load())
	}

	remaining, err := m.RemainingTTL(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 3600*time.Second {
		t.Errorf("RemainingTTL = %v, want 1h", remaining)
	}
}

func TestExchangeErrorReleasesLease(t *testing.T) {
	store := newRedisStore(t)
	ex := &countingExchanger{clock: time.Now, ttl: time.Hour, err: &apierr.AuthError{StatusCode: 401}}
	m := NewManager(store, testKeys, ex, testTokenConfig())
	ctx := context.Background()

	_, err := m.GetValidToken(ctx)
	var ae *apierr.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("error = %v, want AuthError", err)
	}
	if _, err := store.Get(ctx, testKeys.TokenRefreshLock()); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("lease should be released after a failed exchange, Get error = %v", err)
	}
}

func TestClientCredentialsExchanger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("client_secret") {
		case "good":
			_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"Bearer","expires_in":3600}`))
		case "no-expiry":
			_, _ = w.Write([]byte(`{"access_token":"def","token_type":"Bearer"}`))
		case "down":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"unavailable"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
		}
	}))
	defer srv.Close()

	ctx := context.Background()

	tok, err := NewClientCredentialsExchanger(srv.URL, "id", "good", srv.Client(), time.Hour).Exchange(ctx)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if tok.AccessToken != "abc" {
		t.Errorf("AccessToken = %q", tok.AccessToken)
	}
	if life := tok.ExpiresAt.Sub(tok.IssuedAt); life < 3590*time.Second || life > 3600*time.Second {
		t.Errorf("lifetime = %v, want about 1h", life)
	}

	tok, err = NewClientCredentialsExchanger(srv.URL, "id", "no-expiry", srv.Client(), 3600*time.Second).Exchange(ctx)
	if err != nil {
		t.Fatalf("Exchange(no-expiry): %v", err)
	}
	if life := tok.ExpiresAt.Sub(tok.IssuedAt); life != 3600*time.Second {
		t.Errorf("default lifetime = %v, want 3600s", life)
	}

	_, err = NewClientCredentialsExchanger(srv.URL, "id", "bad", srv.Client(), time.Hour).Exchange(ctx)
	var ae *apierr.AuthError
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad credentials error = %v, want AuthError(401)", err)
	}

	_, err = NewClientCredentialsExchanger(srv.URL, "id", "down", srv.Client(), time.Hour).Exchange(ctx)
	var up *apierr.UpstreamError
	if !errors.As(err, &up) || !up.Retryable() {
		t.Errorf("5xx error = %v, want retryable UpstreamError", err)
	}
}
