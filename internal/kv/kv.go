// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

// Package kv is the shared key-value store behind the token cache, the
// refresh and job leases, and the top-up debounce keys.
//
// Two backends implement Store: Redis for deployments with several replicas
// and BadgerDB for a single node. Both honour per-key TTLs and provide an
// atomic set-if-absent and compare-and-delete, which is all the lease
// protocol needs.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/simsync/internal/config"
)

// ErrNotFound is returned by Get for a missing or expired key.
var ErrNotFound = errors.New("kv: key not found")

// Store is a string key-value store with expiry.
type Store interface {
	// Get returns the value of key or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes key unconditionally. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX writes key only when it is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Del removes key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// CompareAndDelete removes key only while it still holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// Keys builds the namespaced keys used across SIMSync.
type Keys struct {
	Prefix string
}

func (k Keys) join(parts ...string) string {
	if k.Prefix == "" {
		return strings.Join(parts, ":")
	}
	return k.Prefix + ":" + strings.Join(parts, ":")
}

// Token is the cached bearer token.
func (k Keys) Token() string { return k.join("token") }

// TokenRefreshLock guards the OAuth2 exchange.
func (k Keys) TokenRefreshLock() string { return k.join("lock", "token-refresh") }

// JobLock is the overlap lease of a sync job kind.
func (k Keys) JobLock(kind string) string { return k.join("lock", "job", kind) }

// TopUpDebounce marks an auto top-up episode for one SIM quota.
func (k Keys) TopUpDebounce(iccid, quotaType string) string {
	return k.join("debounce", "topup", iccid, quotaType)
}

// Open builds the backend selected by cfg.
func Open(cfg *config.KVConfig) (Store, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisFromURL(cfg.RedisURL)
	case "badger":
		return OpenBadger(BadgerOptions{Path: cfg.BadgerPath})
	default:
		return nil, fmt.Errorf("kv: unsupported backend %q", cfg.Backend)
	}
}
