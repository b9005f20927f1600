// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

// Package tracker wires capture, sessions, batching, the durable log and
// delivery into one pipeline per page.
//
// A Tracker runs a single event-loop goroutine that owns the buffer, the
// session manager and every durable log mutation. Source callbacks, timers
// and network completions never touch that state directly: they post
// closures to the loop's bounded inbox. A raw event that finds the inbox full
// is dropped and counted so the host is never blocked.
//
// Flushing drains the buffer on the loop before any network call, writes the
// batch ahead to the durable log, then sends it from a worker goroutine. The
// send result comes back through the inbox; an acknowledged batch is removed
// from the log, a failed one stays there for the recovery sweep. A failed
// batch is never put back into the buffer.
//
// Stop releases every capture listener, flushes in teardown mode (beacon,
// falling back to one synchronous send), ends the session and closes the
// streaming channel.
package tracker
