// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package receiver

import (
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/tomtom215/pulsetrack/internal/models"
)

// SessionRecord is the receiver's view of one session.
type SessionRecord struct {
	models.SessionCreateRequest
	CreatedAt  time.Time  `json:"created_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`
	Creates    int        `json:"creates"`
}

type fingerprint [blake2b.Size256]byte

// Store holds accepted events and sessions.
type Store struct {
	mu       sync.RWMutex
	events   []models.TrackingEvent
	streamed []models.TrackingEvent
	sessions map[string]*SessionRecord

	window int
	seen   map[fingerprint]struct{}
	ring   []fingerprint
	next   int
}

// NewStore returns a store remembering the last window payload fingerprints.
// A window of zero disables deduplication.
func NewStore(window int) *Store {
	return &Store{
		sessions: make(map[string]*SessionRecord),
		window:   window,
		seen:     make(map[fingerprint]struct{}, window),
	}
}

// AcceptPayload stores events unless payload was already accepted within the
// dedup window. It reports whether the payload was new.
func (s *Store) AcceptPayload(payload []byte, events []models.TrackingEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.window > 0 {
		fp := fingerprint(blake2b.Sum256(payload))
		if _, dup := s.seen[fp]; dup {
			return false
		}
		s.remember(fp)
	}
	s.events = append(s.events, events...)
	return true
}

func (s *Store) remember(fp fingerprint) {
	if len(s.ring) < s.window {
		s.ring = append(s.ring, fp)
	} else {
		delete(s.seen, s.ring[s.next])
		s.ring[s.next] = fp
		s.next = (s.next + 1) % s.window
	}
	s.seen[fp] = struct{}{}
}

// AddStreamed stores one event received on the streaming channel. Streamed
// events are a live view and are kept apart from the bulk record.
func (s *Store) AddStreamed(ev models.TrackingEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamed = append(s.streamed, ev)
}

// Events returns bulk-accepted events, filtered by session when sessionID is
// set.
func (s *Store) Events(sessionID string) []models.TrackingEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterSession(s.events, sessionID)
}

// Streamed returns events received on the streaming channel.
func (s *Store) Streamed(sessionID string) []models.TrackingEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterSession(s.streamed, sessionID)
}

func filterSession(events []models.TrackingEvent, sessionID string) []models.TrackingEvent {
	out := make([]models.TrackingEvent, 0, len(events))
	for _, ev := range events {
		if sessionID == "" || ev.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out
}

// UpsertSession records a creation notification. It reports whether the
// session was new.
func (s *Store) UpsertSession(req models.SessionCreateRequest, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.sessions[req.SessionID]; ok {
		rec.SessionCreateRequest = req
		rec.Creates++
		return false
	}
	s.sessions[req.SessionID] = &SessionRecord{SessionCreateRequest: req, CreatedAt: now, Creates: 1}
	return true
}

// EndSession records an end notification. It reports false for an unknown
// session.
func (s *Store) EndSession(id string, req models.SessionEndRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return false
	}
	end := req.EndTime
	rec.EndedAt = &end
	rec.DurationMS = req.DurationMS
	return true
}

// Session returns a copy of the session with id.
func (s *Store) Session(id string) (SessionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return SessionRecord{}, false
	}
	return *rec, true
}
