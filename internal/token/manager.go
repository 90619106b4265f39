// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

// Package token caches the provider bearer token in the shared KV store and
// coordinates refreshes so that at most one OAuth2 exchange runs at a time
// across every replica.
//
// Callers in one process are collapsed with singleflight. Replicas are
// serialized by a SETNX lease; a replica that loses the race polls the cache
// with bounded backoff instead of exchanging credentials itself.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/simsync/internal/apierr"
	"github.com/tomtom215/simsync/internal/config"
	"github.com/tomtom215/simsync/internal/kv"
	"github.com/tomtom215/simsync/internal/logging"
	"github.com/tomtom215/simsync/internal/metrics"
	"github.com/tomtom215/simsync/internal/models"
)

// Manager hands out valid bearer tokens.
type Manager struct {
	store     kv.Store
	keys      kv.Keys
	exchanger Exchanger
	cfg       config.TokenConfig
	nowFunc   func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	group     singleflight.Group
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithNowFunc replaces the clock used for freshness decisions.
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// WithSleepFunc replaces the wait used while polling for another replica's
// refresh.
func WithSleepFunc(sleep func(ctx context.Context, d time.Duration) error) ManagerOption {
	return func(m *Manager) {
		m.sleep = sleep
	}
}

// NewManager creates a Manager backed by store.
func NewManager(store kv.Store, keys kv.Keys, exchanger Exchanger, cfg config.TokenConfig, options ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		keys:      keys,
		exchanger: exchanger,
		cfg:       cfg,
	}
	for _, opt := range options {
		opt(m)
	}
	if m.nowFunc == nil {
		m.nowFunc = time.Now
	}
	if m.sleep == nil {
		m.sleep = sleepCtx
	}
	if m.cfg.PollAttempts <= 0 {
		m.cfg.PollAttempts = 5
	}
	if m.cfg.PollInitialDelay <= 0 {
		m.cfg.PollInitialDelay = 100 * time.Millisecond
	}
	if m.cfg.LockTTL <= 0 {
		m.cfg.LockTTL = 5 * time.Minute
	}
	return m
}

// GetValidToken returns the cached token while now < ExpiresAt - SafetyMargin
// and refreshes it otherwise.
func (m *Manager) GetValidToken(ctx context.Context) (*models.Token, error) {
	tok, err := m.cached(ctx)
	if err != nil {
		return nil, err
	}
	if tok.ValidAt(m.nowFunc(), m.cfg.SafetyMargin) {
		return tok, nil
	}
	return m.refresh(ctx, "refresh", nil)
}

// ForceRefresh replaces a token the provider rejected. When the cache already
// holds a different valid token, someone else refreshed after the rejection
// and that token is returned without another exchange.
func (m *Manager) ForceRefresh(ctx context.Context, stale *models.Token) (*models.Token, error) {
	tok, err := m.cached(ctx)
	if err != nil {
		return nil, err
	}
	if m.replaces(tok, stale) {
		return tok, nil
	}
	return m.refresh(ctx, "force", stale)
}

// RemainingTTL returns the remaining lifetime of the cached token, or zero
// when none is cached.
func (m *Manager) RemainingTTL(ctx context.Context) (time.Duration, error) {
	tok, err := m.cached(ctx)
	if err != nil {
		return 0, err
	}
	remaining := tok.Remaining(m.nowFunc())
	metrics.TokenRemainingSeconds.Set(remaining.Seconds())
	return remaining, nil
}

// PreRefresh refreshes the token ahead of expiry when less than
// PreRefreshThreshold remains. It reports whether a new token was obtained.
func (m *Manager) PreRefresh(ctx context.Context) (bool, error) {
	tok, err := m.cached(ctx)
	if err != nil {
		return false, err
	}
	if remaining := tok.Remaining(m.nowFunc()); tok != nil && remaining >= m.cfg.PreRefreshThreshold {
		metrics.TokenRemainingSeconds.Set(remaining.Seconds())
		return false, nil
	}
	fresh, err := m.refresh(ctx, "pre-refresh", tok)
	if err != nil {
		return false, err
	}
	metrics.TokenRemainingSeconds.Set(fresh.Remaining(m.nowFunc()).Seconds())
	return tok == nil || fresh.AccessToken != tok.AccessToken, nil
}

// replaces reports whether tok is usable in place of stale.
func (m *Manager) replaces(tok, stale *models.Token) bool {
	if !tok.ValidAt(m.nowFunc(), m.cfg.SafetyMargin) {
		return false
	}
	return stale == nil || tok.AccessToken != stale.AccessToken
}

// refresh joins or starts the process-wide flight. The flight is shared, so
// it runs detached from the starting caller's cancellation and is bounded by
// the lease TTL instead; each caller still stops waiting at its own deadline.
func (m *Manager) refresh(ctx context.Context, flight string, stale *models.Token) (*models.Token, error) {
	ch := m.group.DoChan(flight, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.LockTTL)
		defer cancel()
		return m.refreshAcrossReplicas(flightCtx, stale)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Token), nil
	}
}

func (m *Manager) refreshAcrossReplicas(ctx context.Context, stale *models.Token) (*models.Token, error) {
	lease, acquired, err := kv.TryAcquire(ctx, m.store, m.keys.TokenRefreshLock(), m.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire token refresh lease: %w", err)
	}
	if !acquired {
		return m.waitForRefresh(ctx, stale)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			logging.Warn().Err(err).Msg("Failed to release token refresh lease")
		}
	}()

	// Another replica may have written a token between our cache miss and
	// acquiring the lease.
	current, err := m.cached(ctx)
	if err != nil {
		return nil, err
	}
	if m.replaces(current, stale) {
		return current, nil
	}

	tok, err := m.exchanger.Exchange(ctx)
	if err != nil {
		metrics.RecordTokenRefresh(refreshResult(err))
		logging.Ctx(ctx).Warn().Err(err).Msg("Token exchange failed")
		return nil, err
	}
	if current != nil {
		tok.Version = current.Version + 1
	} else {
		tok.Version = 1
	}

	if err := m.store.Set(ctx, m.keys.Token(), encode(tok), m.storeTTL(tok)); err != nil {
		return nil, fmt.Errorf("cache token: %w", err)
	}
	metrics.RecordTokenRefresh("success")
	logging.Ctx(ctx).Info().
		Int64("version", tok.Version).
		Time("expires_at", tok.ExpiresAt).
		Msg("Provider token refreshed")
	return tok, nil
}

// waitForRefresh polls the cache while another holder of the lease performs
// the exchange.
func (m *Manager) waitForRefresh(ctx context.Context, stale *models.Token) (*models.Token, error) {
	delay := m.cfg.PollInitialDelay
	var waited time.Duration
	for i := 0; i < m.cfg.PollAttempts; i++ {
		if err := m.sleep(ctx, delay); err != nil {
			return nil, err
		}
		waited += delay
		tok, err := m.cached(ctx)
		if err != nil {
			return nil, err
		}
		if m.replaces(tok, stale) {
			return tok, nil
		}
		delay *= 2
	}
	metrics.RecordTokenRefresh("lease_timeout")
	return nil, &apierr.RefreshTimeoutError{Waited: waited}
}

func (m *Manager) cached(ctx context.Context) (*models.Token, error) {
	raw, err := m.store.Get(ctx, m.keys.Token())
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached token: %w", err)
	}
	var tok models.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		logging.Warn().Err(err).Msg("Discarding undecodable cached token")
		return nil, nil
	}
	return &tok, nil
}

func (m *Manager) storeTTL(tok *models.Token) time.Duration {
	ttl := tok.ExpiresAt.Sub(m.nowFunc())
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func encode(tok *models.Token) string {
	data, _ := json.Marshal(tok) //nolint:errcheck // plain struct of strings, times and ints
	return string(data)
}

func refreshResult(err error) string {
	var ae *apierr.AuthError
	if errors.As(err, &ae) {
		return "auth_error"
	}
	return "upstream_error"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
