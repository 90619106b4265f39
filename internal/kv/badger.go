// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// conflictRetries bounds the retries of a read-modify-write transaction that
// lost a race against a concurrent writer.
const conflictRetries = 5

// BadgerOptions configures the embedded backend.
type BadgerOptions struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
}

// BadgerStore implements Store on an embedded BadgerDB. Leases are only
// exclusive within one process, so it suits single-replica deployments.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens a BadgerDB at opts.Path, or an in-memory instance.
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadger wraps an already open database.
func NewBadger(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (s *BadgerStore) Get(_ context.Context, key string) (string, error) {
	var out string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("badger get %s: %w", key, err)
	}
	return out, nil
}

func (s *BadgerStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(newEntry(key, value, ttl))
	})
	if err != nil {
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var written bool
	err := s.retryConflicts(ctx, func(txn *badger.Txn) error {
		written = false
		_, err := txn.Get([]byte(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		written = true
		return txn.SetEntry(newEntry(key, value, ttl))
	})
	if err != nil {
		return false, fmt.Errorf("badger setnx %s: %w", key, err)
	}
	return written, nil
}

func (s *BadgerStore) Del(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("badger del %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	var deleted bool
	err := s.retryConflicts(ctx, func(txn *badger.Txn) error {
		deleted = false
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var current string
		if err := item.Value(func(val []byte) error {
			current = string(val)
			return nil
		}); err != nil {
			return err
		}
		if current != value {
			return nil
		}
		deleted = true
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return false, fmt.Errorf("badger compare-and-delete %s: %w", key, err)
	}
	return deleted, nil
}

func (s *BadgerStore) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger: database closed")
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// retryConflicts runs fn in an update transaction, retrying when a concurrent
// transaction committed a conflicting write first.
func (s *BadgerStore) retryConflicts(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < conflictRetries; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func newEntry(key, value string, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry([]byte(key), []byte(value))
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}
