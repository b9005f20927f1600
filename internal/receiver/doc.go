// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

/*
Package receiver is a development collector implementing the tracker's wire
contract. It keeps everything in memory and is meant for local runs and
integration tests, not as an analytics backend.

Routes:

	POST  /api/events          batch object or event array; 2xx acknowledges
	GET   /api/events          accepted events, optionally ?session_id=
	POST  /api/sessions        session creation (an upsert)
	PATCH /api/sessions/{id}   session end
	GET   /api/sessions/{id}   session state
	GET   /ws                  streaming producer endpoint
	GET   /ws/live             observer feed of every accepted event
	GET   /healthz             liveness
	GET   /metrics             Prometheus metrics

Bulk payloads are fingerprinted with BLAKE2b. A payload whose fingerprint is
still inside the dedup window is acknowledged without being stored again, so
a recovery resend of an already-accepted batch is idempotent.
*/
package receiver
