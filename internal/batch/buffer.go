// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package batch

import (
	"github.com/tomtom215/pulsetrack/internal/metrics"
	"github.com/tomtom215/pulsetrack/internal/models"
)

// Buffer is the ordered in-memory holding queue. It is owned by the tracker
// event loop and is not safe for concurrent use.
type Buffer struct {
	events []models.TrackingEvent
}

// NewBuffer returns an empty Buffer with room for capacity events.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{events: make([]models.TrackingEvent, 0, capacity)}
}

// Append adds ev at the tail and returns the new length.
func (b *Buffer) Append(ev models.TrackingEvent) int {
	b.events = append(b.events, ev)
	metrics.BufferDepth.Set(float64(len(b.events)))
	return len(b.events)
}

// Drain returns every buffered event in append order and leaves the buffer
// empty. The returned slice is not shared with the buffer.
func (b *Buffer) Drain() []models.TrackingEvent {
	if len(b.events) == 0 {
		return nil
	}
	out := b.events
	b.events = make([]models.TrackingEvent, 0, cap(out))
	metrics.BufferDepth.Set(0)
	return out
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int { return len(b.events) }
