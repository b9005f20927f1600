// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// FlushReason records which trigger produced a batch.
type FlushReason string

// Flush triggers.
const (
	FlushSize     FlushReason = "size"
	FlushInterval FlushReason = "interval"
	FlushHidden   FlushReason = "hidden"
	FlushTeardown FlushReason = "teardown"
	FlushRotate   FlushReason = "rotate"
	FlushManual   FlushReason = "manual"
)

// BatchMetadata accompanies every bulk payload.
type BatchMetadata struct {
	UserAgent    string      `json:"user_agent"`
	Language     string      `json:"language"`
	ScreenWidth  int         `json:"screen_width"`
	ScreenHeight int         `json:"screen_height"`
	Timestamp    int64       `json:"timestamp"`
	Reason       FlushReason `json:"reason,omitempty"`
}

// Batch is the atomic unit of bulk transmission.
type Batch struct {
	SessionID string          `json:"session_id"`
	Events    []TrackingEvent `json:"events"`
	Metadata  BatchMetadata   `json:"metadata"`
}

// PayloadFormat selects the body shape of POST <events-endpoint>.
type PayloadFormat string

// Accepted payload formats.
const (
	PayloadBatch PayloadFormat = "batch"
	PayloadArray PayloadFormat = "array"
)

// Encode serializes the batch in the requested format.
func (b *Batch) Encode(format PayloadFormat) ([]byte, error) {
	if format == PayloadArray {
		return json.Marshal(b.Events)
	}
	return json.Marshal(b)
}

// DecodeEvents accepts either payload shape and returns its events in order.
// The session id is taken from the batch wrapper when present, otherwise from
// the first event.
func DecodeEvents(payload []byte) (sessionID string, events []TrackingEvent, err error) {
	trimmed := firstNonSpace(payload)
	switch trimmed {
	case '[':
		if err := json.Unmarshal(payload, &events); err != nil {
			return "", nil, fmt.Errorf("decode event array: %w", err)
		}
		if len(events) > 0 {
			sessionID = events[0].SessionID
		}
		return sessionID, events, nil
	case '{':
		var b Batch
		if err := json.Unmarshal(payload, &b); err != nil {
			return "", nil, fmt.Errorf("decode batch: %w", err)
		}
		if b.SessionID == "" && len(b.Events) > 0 {
			b.SessionID = b.Events[0].SessionID
		}
		return b.SessionID, b.Events, nil
	default:
		return "", nil, fmt.Errorf("decode events: unexpected payload start %q", trimmed)
	}
}

func firstNonSpace(p []byte) byte {
	for _, c := range p {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return c
	}
	return 0
}

// PersistedRecord is one entry of the durable log.
type PersistedRecord struct {
	Seq     uint64 `json:"seq"`
	Payload string `json:"payload"`
}
