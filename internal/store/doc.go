// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

// Package store implements the durable batch log.
//
// Every flushed batch is written ahead into the log before it is sent and is
// removed only once the collector acknowledges it. Entries that are still
// present later (failed sends, a crash, a closed tab) are re-submitted by the
// recovery sweep, so delivery is at-least-once.
//
// The log is one value under a single storage key: a JSON document holding the
// next sequence number and an ordered array of {seq, payload} records. Keeping
// it to one key matches the browser local storage model the tracker was built
// for, and lets every backend in internal/storage hold it.
//
// The log is bounded. When it is full the oldest entry is evicted so that a
// long outage costs the oldest data rather than the newest.
package store
