// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

/*
Package models defines the records that flow through the Pulsetrack pipeline
and the wire shapes exchanged with a collector.

Key Types:

  - TrackingEvent: one normalized interaction record, stamped with the session
    that was active when it was captured
  - Session and SessionMetadata: one bounded interval of user activity
  - Batch and BatchMetadata: the atomic unit of bulk transmission
  - PersistedRecord: a serialized batch plus its local sequence number
  - SessionCreateRequest / SessionEndRequest: session notification bodies

Errors:

CaptureError, TransportError, StreamError and PersistenceError classify the
four failure families of the pipeline. None of them reach the host; they are
logged and counted where they occur.

All JSON encoding uses github.com/goccy/go-json.
*/
package models
