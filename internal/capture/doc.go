// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

// Package capture turns raw interaction events into normalized records.
//
// A Capturer subscribes to a Source for a set of event kinds. Each raw event
// passes, in order, the movement dead-zone, the per-kind throttle and the
// per-kind sampler before it is normalized. Rejected events are counted and
// discarded; they never reach the buffer.
//
// Subscribe returns a Disposer that releases every listener it registered.
// Calling it more than once is harmless.
//
// Two sources ship with the package. ChannelSource is driven programmatically
// by an embedding host or a test. FileSource replays and follows a JSON-lines
// interaction recording, watching the file with fsnotify.
package capture
