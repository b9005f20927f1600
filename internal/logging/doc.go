// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

// Package logging provides the zerolog-based structured logger shared by every
// Pulsetrack component.
//
// The tracker never surfaces pipeline failures to its host. Capture, transport,
// stream and persistence errors are contained where they occur and reported
// here, so this package is the primary diagnostic surface of the pipeline.
//
// # Quick Start
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//
//	logging.Info().Str("session_id", id).Msg("session started")
//	logging.Warn().Err(err).Int("events", n).Msg("batch send failed")
//
// # Context
//
// The active session id travels through context.Context as the correlation id:
//
//	ctx = logging.ContextWithSessionID(ctx, id)
//	logging.Ctx(ctx).Debug().Msg("flush")
//
// # Supervision
//
// NewSlogLogger bridges zerolog to log/slog so that sutureslog can report
// supervisor events through the same sink.
package logging
