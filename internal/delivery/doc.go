// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

// Package delivery implements the request/response side of the delivery
// channel: bulk batch sends, the teardown beacon and session notifications.
//
// Only a 2xx response acknowledges a request. Every other outcome is a
// *models.TransportError. Bulk sends run behind a gobreaker circuit breaker
// so that a collector outage fails fast; the batch stays in the durable log
// and the recovery sweep retries it once the breaker half-opens.
//
// BulkClient.Send blocks for at most the configured send timeout. Callers
// that must not block run it in their own goroutine.
package delivery
