// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

// Package session owns the active session identifier of a tracker.
//
// A Manager moves through Idle, Active and Ended. Start reuses the id stored
// under the session key when its last activity is within the idle timeout,
// otherwise it generates a fresh UUIDv4. Creation and end notifications are
// sent to the collector in the background; their failures are logged and
// counted, never returned.
//
// A Manager is not safe for concurrent use. The tracker event loop is its
// only caller.
package session
