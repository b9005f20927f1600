// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package models

import "time"

// Viewport is a width/height pair in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SessionMetadata describes the environment a session was recorded in.
type SessionMetadata struct {
	UserAgent string   `json:"user_agent"`
	Viewport  Viewport `json:"viewport"`
	Screen    Viewport `json:"screen"`
	Referrer  string   `json:"referrer"`
	Locale    string   `json:"locale"`
	Timezone  string   `json:"timezone"`
}

// Session is one bounded interval of user activity.
type Session struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Metadata  SessionMetadata `json:"metadata"`
}

// Duration returns the session length up to end, or up to now if it has not
// ended.
func (s *Session) Duration(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.CreatedAt)
	}
	return now.Sub(s.CreatedAt)
}

// SessionCreateRequest is the body of POST <sessions-endpoint>.
type SessionCreateRequest struct {
	SessionID    string `json:"session_id" validate:"required,max=128"`
	UserAgent    string `json:"user_agent" validate:"max=1024"`
	Referrer     string `json:"referrer" validate:"max=2048"`
	ScreenWidth  int    `json:"screen_width" validate:"gte=0"`
	ScreenHeight int    `json:"screen_height" validate:"gte=0"`
	Language     string `json:"language" validate:"max=64"`
	Timezone     string `json:"timezone" validate:"max=64"`
}

// NewSessionCreateRequest builds the creation notification for s.
func NewSessionCreateRequest(s *Session) SessionCreateRequest {
	return SessionCreateRequest{
		SessionID:    s.ID,
		UserAgent:    s.Metadata.UserAgent,
		Referrer:     s.Metadata.Referrer,
		ScreenWidth:  s.Metadata.Screen.Width,
		ScreenHeight: s.Metadata.Screen.Height,
		Language:     s.Metadata.Locale,
		Timezone:     s.Metadata.Timezone,
	}
}

// SessionEndRequest is the body of PATCH <sessions-endpoint>/{id}.
type SessionEndRequest struct {
	EndTime    time.Time `json:"end_time" validate:"required"`
	DurationMS int64     `json:"duration_ms,omitempty" validate:"gte=0"`
}
