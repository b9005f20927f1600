// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/pulsetrack/internal/logging"
)

// keyPrefix namespaces tracker keys inside the Badger keyspace.
const keyPrefix = "kv:"

// Badger is a KV backed by BadgerDB.
type Badger struct {
	db       *badger.DB
	maxBytes int

	mu     sync.RWMutex
	closed bool
}

// OpenBadger opens (or creates) a BadgerDB directory at opts.Path.
func OpenBadger(opts Options) (*Badger, error) {
	if opts.Path == "" {
		return nil, errors.New("storage: badger requires a path")
	}

	bo := badger.DefaultOptions(opts.Path)
	bo.SyncWrites = opts.SyncWrites
	// The tracker keeps a handful of small values; keep the footprint small.
	bo.MemTableSize = 8 << 20
	bo.ValueLogFileSize = 16 << 20
	bo.NumCompactors = 2
	bo.Logger = nil

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Debug().
		Str("path", opts.Path).
		Bool("sync_writes", opts.SyncWrites).
		Msg("badger storage opened")

	return &Badger{db: db, maxBytes: opts.MaxValueBytes}, nil
}

func (b *Badger) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func (b *Badger) Get(_ context.Context, key string) ([]byte, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

func (b *Badger) Set(_ context.Context, key string, value []byte) error {
	if b.isClosed() {
		return ErrClosed
	}
	if err := checkQuota(b.maxBytes, value); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(keyPrefix+key), value))
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (b *Badger) Delete(_ context.Context, key string) error {
	if b.isClosed() {
		return ErrClosed
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys lists every tracker key, sorted.
func (b *Badger) Keys() ([]string, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return keys, err
}

// Close runs a final value log GC pass and closes the database.
func (b *Badger) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	// ErrNoRewrite just means there was nothing to collect.
	if err := b.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		logging.Debug().Err(err).Msg("badger value log GC skipped")
	}
	return b.db.Close()
}
