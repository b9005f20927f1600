// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

/*
Package services adapts pulsetrack components to suture's context-aware
Serve pattern.

HTTPServerService wraps an *http.Server (the metrics endpoint) and translates
ListenAndServe/Shutdown into Serve.

TrackerService builds a fresh tracker for every run, starts it, and on
cancellation stops it and waits a bounded time for background sends and
session notifications to drain. A tracker cannot be restarted, so a restart
by the supervisor always goes through the factory.
*/
package services
