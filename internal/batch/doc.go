// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

// Package batch holds captured records until they are flushed and decides
// when a flush happens.
//
// Buffer is an append-only FIFO whose Drain swaps the contents out in one
// step. Scheduler turns size, timer, visibility and teardown signals into
// flush reasons. Neither type performs I/O.
package batch
