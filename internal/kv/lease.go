// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package kv

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Lease is a held mutual-exclusion lease. The owner token makes Release safe
// after the TTL lapsed and another holder took over.
type Lease struct {
	store Store
	key   string
	owner string
}

// TryAcquire takes the lease at key for ttl. It returns nil and false when
// another owner holds it.
func TryAcquire(ctx context.Context, store Store, key string, ttl time.Duration) (*Lease, bool, error) {
	owner := uuid.NewString()
	ok, err := store.SetNX(ctx, key, owner, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Lease{store: store, key: key, owner: owner}, true, nil
}

// Key returns the lease key.
func (l *Lease) Key() string { return l.key }

// Owner returns the owner token written into the lease.
func (l *Lease) Owner() string { return l.owner }

// Release deletes the lease if this owner still holds it.
func (l *Lease) Release(ctx context.Context) error {
	_, err := l.store.CompareAndDelete(ctx, l.key, l.owner)
	return err
}
