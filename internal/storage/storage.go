// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

// Package storage provides the local key-value stores that back the durable
// batch log and the persisted session. The interface mirrors browser local
// storage: string keys, opaque values, a per-value quota and no transactions
// across keys.
//
// Three backends are available:
//   - badger: BadgerDB, fsync'd writes (default)
//   - sqlite: a single-table SQLite file via the CGO-free modernc driver
//   - memory: process memory, for tests and ephemeral runs
package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when the key has no value.
	ErrNotFound = errors.New("storage: key not found")

	// ErrQuotaExceeded is returned by Set when the value is larger than the
	// configured quota.
	ErrQuotaExceeded = errors.New("storage: quota exceeded")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage: closed")
)

// KV is a local key-value store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver        string // badger, sqlite or memory
	Path          string
	MaxValueBytes int // zero disables the quota
	SyncWrites    bool
}

// Open returns the backend named by opts.Driver.
func Open(opts Options) (KV, error) {
	switch opts.Driver {
	case "badger", "":
		return OpenBadger(opts)
	case "sqlite":
		return OpenSQLite(opts)
	case "memory":
		return NewMemory(opts.MaxValueBytes), nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", opts.Driver)
	}
}

func checkQuota(limit int, value []byte) error {
	if limit > 0 && len(value) > limit {
		return fmt.Errorf("%w: %d bytes > %d", ErrQuotaExceeded, len(value), limit)
	}
	return nil
}
