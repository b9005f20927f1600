// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/pulsetrack/internal/logging"
	"github.com/tomtom215/pulsetrack/internal/metrics"
	"github.com/tomtom215/pulsetrack/internal/models"
	"github.com/tomtom215/pulsetrack/internal/storage"
)

// DefaultKey is the storage key holding the log.
const DefaultKey = "pulsetrack_events"

// DefaultCapacity is the default maximum number of retained batches.
const DefaultCapacity = 10

// ErrEmptyPayload is returned by WriteAhead for an empty payload.
var ErrEmptyPayload = errors.New("store: empty payload")

// Options configures a Log.
type Options struct {
	Key      string
	Capacity int
}

type document struct {
	NextSeq uint64                   `json:"next_seq"`
	Entries []models.PersistedRecord `json:"entries"`
}

// Log is the bounded durable batch log.
type Log struct {
	kv       storage.KV
	key      string
	capacity int

	mu       sync.Mutex
	doc      document
	inFlight map[uint64]struct{}
}

// Open loads the log from kv. A corrupt document is logged and replaced by an
// empty log; an unreadable store is returned as a *models.PersistenceError.
func Open(ctx context.Context, kv storage.KV, opts Options) (*Log, error) {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}

	l := &Log{
		kv:       kv,
		key:      opts.Key,
		capacity: opts.Capacity,
		doc:      document{NextSeq: 1},
		inFlight: make(map[uint64]struct{}),
	}

	raw, err := kv.Get(ctx, l.key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		metrics.LogErrors.WithLabelValues("load").Inc()
		return nil, &models.PersistenceError{Op: "load", Err: err}
	default:
		var doc document
		if err := json.Unmarshal(raw, &doc); err != nil {
			metrics.LogErrors.WithLabelValues("load").Inc()
			logging.Warn().Err(err).Str("key", l.key).Msg("durable log unreadable, starting empty")
			break
		}
		if doc.NextSeq == 0 {
			doc.NextSeq = 1
		}
		for _, e := range doc.Entries {
			if e.Seq >= doc.NextSeq {
				doc.NextSeq = e.Seq + 1
			}
		}
		l.doc = doc
	}

	// A log written with a larger capacity is trimmed on load.
	l.doc.Entries = l.trim(l.doc.Entries)
	metrics.LogDepth.Set(float64(len(l.doc.Entries)))
	return l, nil
}

// WriteAhead appends payload with the next sequence number and persists the
// log. It returns the assigned sequence and the sequences evicted to make room.
// On a storage failure the in-memory log is left unchanged and the error is a
// *models.PersistenceError; the caller sends the batch memory-only.
func (l *Log) WriteAhead(ctx context.Context, payload []byte) (uint64, []uint64, error) {
	if len(payload) == 0 {
		return 0, nil, ErrEmptyPayload
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.doc.NextSeq
	entries := append(append([]models.PersistedRecord(nil), l.doc.Entries...),
		models.PersistedRecord{Seq: seq, Payload: string(payload)})

	var evicted []uint64
	if over := len(entries) - l.capacity; over > 0 {
		for _, e := range entries[:over] {
			evicted = append(evicted, e.Seq)
		}
		entries = entries[over:]
	}

	next := document{NextSeq: seq + 1, Entries: entries}
	if err := l.persist(ctx, next); err != nil {
		metrics.LogErrors.WithLabelValues("write").Inc()
		return 0, nil, &models.PersistenceError{Op: "write", Err: err}
	}
	l.doc = next

	for _, s := range evicted {
		delete(l.inFlight, s)
	}
	if len(evicted) > 0 {
		metrics.LogEvictions.Add(float64(len(evicted)))
		logging.Warn().
			Int("evicted", len(evicted)).
			Uint64("oldest_kept", entries[0].Seq).
			Msg("durable log full, evicted oldest batches")
	}
	metrics.LogDepth.Set(float64(len(entries)))
	return seq, evicted, nil
}

// Remove deletes the entry with seq. Removing an absent entry is not an error,
// which keeps acknowledgement of a recovered duplicate idempotent.
func (l *Log) Remove(ctx context.Context, seq uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.inFlight, seq)

	idx := -1
	for i, e := range l.doc.Entries {
		if e.Seq == seq {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	entries := make([]models.PersistedRecord, 0, len(l.doc.Entries)-1)
	entries = append(entries, l.doc.Entries[:idx]...)
	entries = append(entries, l.doc.Entries[idx+1:]...)
	next := document{NextSeq: l.doc.NextSeq, Entries: entries}

	if err := l.persist(ctx, next); err != nil {
		metrics.LogErrors.WithLabelValues("remove").Inc()
		return &models.PersistenceError{Op: "remove", Err: err}
	}
	l.doc = next
	metrics.LogDepth.Set(float64(len(entries)))
	return nil
}

// Pending returns a copy of every entry, oldest first.
func (l *Log) Pending() []models.PersistedRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.PersistedRecord(nil), l.doc.Entries...)
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.doc.Entries)
}

// Capacity returns the configured bound.
func (l *Log) Capacity() int { return l.capacity }

// Claim marks seq as in flight. It reports false if seq is already in flight
// or no longer in the log.
func (l *Log) Claim(seq uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.claimLocked(seq)
}

func (l *Log) claimLocked(seq uint64) bool {
	if _, busy := l.inFlight[seq]; busy {
		return false
	}
	for _, e := range l.doc.Entries {
		if e.Seq == seq {
			l.inFlight[seq] = struct{}{}
			return true
		}
	}
	return false
}

// Release clears the in-flight mark after a failed send so the next sweep
// picks the entry up again.
func (l *Log) Release(seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inFlight, seq)
}

// Sweep claims and returns every entry that is not already in flight, oldest
// first. Each returned entry must be finished with Remove or Release.
func (l *Log) Sweep() []models.PersistedRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []models.PersistedRecord
	for _, e := range l.doc.Entries {
		if l.claimLocked(e.Seq) {
			out = append(out, e)
		}
	}
	return out
}

// Clear drops every entry and persists the empty log.
func (l *Log) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := document{NextSeq: l.doc.NextSeq}
	if err := l.persist(ctx, next); err != nil {
		return &models.PersistenceError{Op: "clear", Err: err}
	}
	l.doc = next
	l.inFlight = make(map[uint64]struct{})
	metrics.LogDepth.Set(0)
	return nil
}

func (l *Log) trim(entries []models.PersistedRecord) []models.PersistedRecord {
	if over := len(entries) - l.capacity; over > 0 {
		logging.Warn().Int("dropped", over).Msg("durable log above capacity on load, dropping oldest")
		return entries[over:]
	}
	return entries
}

func (l *Log) persist(ctx context.Context, doc document) error {
	if doc.Entries == nil {
		doc.Entries = []models.PersistedRecord{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal log: %w", err)
	}
	return l.kv.Set(ctx, l.key, data)
}
