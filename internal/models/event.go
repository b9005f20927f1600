// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package models

import (
	"strings"
	"time"
)

// EventType names the kind of a TrackingEvent.
type EventType string

// Event types produced by the capture stage.
const (
	EventMouseMove        EventType = "mouse_move"
	EventMouseClick       EventType = "mouse_click"
	EventScroll           EventType = "scroll"
	EventViewportResize   EventType = "viewport_resize"
	EventFormInput        EventType = "form_input"
	EventFormChange       EventType = "form_change"
	EventFormSubmit       EventType = "form_submit"
	EventVisibilityChange EventType = "visibility_change"
	EventPageView         EventType = "page_view"
	EventPageUnload       EventType = "page_unload"
	EventSessionStart     EventType = "session_start"
	EventSessionEnd       EventType = "session_end"
)

// CustomEventPrefix prefixes application-defined event types.
const CustomEventPrefix = "custom_"

// CustomEventType returns the event type for an application-defined event.
func CustomEventType(name string) EventType {
	return EventType(CustomEventPrefix + name)
}

// IsCustom reports whether t is an application-defined event type.
func (t EventType) IsCustom() bool {
	return strings.HasPrefix(string(t), CustomEventPrefix)
}

// Valid reports whether t is a known or custom event type.
func (t EventType) Valid() bool {
	switch t {
	case EventMouseMove, EventMouseClick, EventScroll, EventViewportResize,
		EventFormInput, EventFormChange, EventFormSubmit, EventVisibilityChange,
		EventPageView, EventPageUnload, EventSessionStart, EventSessionEnd:
		return true
	}
	return t.IsCustom() && len(t) > len(CustomEventPrefix)
}

// DefaultStreamTypes are the high-value types mirrored on the streaming channel.
var DefaultStreamTypes = []EventType{EventMouseClick, EventSessionStart, EventSessionEnd}

// TrackingEvent is one normalized interaction record. It is not modified
// after creation.
type TrackingEvent struct {
	EventType EventType      `json:"event_type"`
	Timestamp int64          `json:"timestamp"` // Unix milliseconds
	URL       string         `json:"url"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// Time returns the capture timestamp as a time.Time.
func (e *TrackingEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// UnixMillis converts t to the wire timestamp representation.
func UnixMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// ElementDescriptor summarizes the DOM-like target of an interaction.
type ElementDescriptor struct {
	Tag        string            `json:"tag"`
	ID         string            `json:"id,omitempty"`
	Classes    string            `json:"class,omitempty"`
	Text       string            `json:"text,omitempty"`
	Path       string            `json:"path,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Map renders the descriptor as a generic payload fragment.
func (d *ElementDescriptor) Map() map[string]any {
	m := map[string]any{"tag": d.Tag}
	if d.ID != "" {
		m["id"] = d.ID
	}
	if d.Classes != "" {
		m["class"] = d.Classes
	}
	if d.Text != "" {
		m["text"] = d.Text
	}
	if d.Path != "" {
		m["path"] = d.Path
	}
	if len(d.Attributes) > 0 {
		attrs := make(map[string]any, len(d.Attributes))
		for k, v := range d.Attributes {
			attrs[k] = v
		}
		m["attributes"] = attrs
	}
	return m
}
