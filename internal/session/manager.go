// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/pulsetrack/internal/clock"
	"github.com/tomtom215/pulsetrack/internal/logging"
	"github.com/tomtom215/pulsetrack/internal/metrics"
	"github.com/tomtom215/pulsetrack/internal/models"
	"github.com/tomtom215/pulsetrack/internal/storage"
)

// DefaultKey is the storage key holding the session snapshot.
const DefaultKey = "pulsetrack_session"

// DefaultIdleTimeout is the inactivity span after which a session ends.
const DefaultIdleTimeout = 30 * time.Minute

// State is the lifecycle state of a Manager.
type State int

const (
	StateIdle State = iota
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrNotActive is returned when an operation needs an active session.
var ErrNotActive = errors.New("session: not active")

// Notifier reports session boundaries to the collector.
type Notifier interface {
	Create(ctx context.Context, req models.SessionCreateRequest) error
	End(ctx context.Context, id string, req models.SessionEndRequest) error
}

// Snapshot is the persisted form of the active session.
type Snapshot struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Options configures a Manager.
type Options struct {
	KV            storage.KV
	Key           string
	IdleTimeout   time.Duration
	Clock         clock.Clock
	Notifier      Notifier
	NotifyTimeout time.Duration
	Metadata      models.SessionMetadata
	// NewID generates session ids. Defaults to UUIDv4.
	NewID func() string
}

// Manager drives the session state machine.
type Manager struct {
	kv            storage.KV
	key           string
	idle          time.Duration
	clock         clock.Clock
	notifier      Notifier
	notifyTimeout time.Duration
	metadata      models.SessionMetadata
	newID         func() string

	state        State
	current      models.Session
	lastActivity time.Time

	wg sync.WaitGroup
}

// NewManager returns an idle Manager.
func NewManager(opts Options) *Manager {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	return &Manager{
		kv:            opts.KV,
		key:           opts.Key,
		idle:          opts.IdleTimeout,
		clock:         opts.Clock,
		notifier:      opts.Notifier,
		notifyTimeout: opts.NotifyTimeout,
		metadata:      opts.Metadata,
		newID:         opts.NewID,
	}
}

// Start enters Active. It reports whether a stored session was resumed.
// Storage failures degrade to an unpersisted session.
func (m *Manager) Start(ctx context.Context) (models.Session, bool) {
	now := m.clock.Now()

	snap, ok := m.load(ctx)
	reused := ok && snap.ID != "" && now.Sub(snap.LastActivity) < m.idle
	if reused {
		m.current = models.Session{ID: snap.ID, CreatedAt: snap.CreatedAt, Metadata: m.metadata}
	} else {
		m.current = models.Session{ID: m.newID(), CreatedAt: now, Metadata: m.metadata}
	}
	m.state = StateActive
	m.lastActivity = now
	m.Persist(ctx)

	metrics.SessionsStarted.WithLabelValues(fmt.Sprint(reused)).Inc()
	logging.Info().
		Str("session_id", m.current.ID).
		Bool("reused", reused).
		Msg("Session started")

	req := models.NewSessionCreateRequest(&m.current)
	m.notify("create", func(ctx context.Context) error {
		return m.notifier.Create(ctx, req)
	})
	return m.current, reused
}

// End leaves Active and sends the end notification with the final duration.
// cause is recorded in metrics ("idle", "stop").
func (m *Manager) End(ctx context.Context, cause string) (models.Session, error) {
	if m.state != StateActive {
		return models.Session{}, ErrNotActive
	}
	now := m.clock.Now()
	m.current.EndedAt = &now
	m.state = StateEnded

	ended := m.current
	req := models.SessionEndRequest{
		EndTime:    now,
		DurationMS: ended.Duration(now).Milliseconds(),
	}
	if cause == "idle" && m.kv != nil {
		// A rotated session must not be resumed.
		if err := m.kv.Delete(ctx, m.key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logging.Warn().Err(err).Str("session_id", ended.ID).Msg("Failed to clear stored session")
		}
	} else if cause != "idle" {
		m.Persist(ctx)
	}

	metrics.SessionsEnded.WithLabelValues(cause).Inc()
	logging.Info().
		Str("session_id", ended.ID).
		Str("cause", cause).
		Int64("duration_ms", req.DurationMS).
		Msg("Session ended")

	id := ended.ID
	m.notify("end", func(ctx context.Context) error {
		return m.notifier.End(ctx, id, req)
	})
	return ended, nil
}

// Rotate ends the active session for inactivity and starts a new one.
func (m *Manager) Rotate(ctx context.Context) (ended, started models.Session, err error) {
	if ended, err = m.End(ctx, "idle"); err != nil {
		return ended, started, err
	}
	started, _ = m.Start(ctx)
	return ended, started, nil
}

// Touch records activity at t.
func (m *Manager) Touch(t time.Time) {
	if m.state == StateActive && t.After(m.lastActivity) {
		m.lastActivity = t
	}
}

// Expired reports whether the active session has been idle for at least the
// idle timeout at now.
func (m *Manager) Expired(now time.Time) bool {
	return m.state == StateActive && now.Sub(m.lastActivity) >= m.idle
}

// IdleDeadline returns when the active session will expire without further
// activity.
func (m *Manager) IdleDeadline() time.Time {
	return m.lastActivity.Add(m.idle)
}

// ID returns the active session id, or "" when not active.
func (m *Manager) ID() string {
	if m.state != StateActive {
		return ""
	}
	return m.current.ID
}

// Current returns the most recent session.
func (m *Manager) Current() models.Session { return m.current }

// State returns the lifecycle state.
func (m *Manager) State() State { return m.state }

// LastActivity returns the last recorded activity time.
func (m *Manager) LastActivity() time.Time { return m.lastActivity }

// Persist writes the session snapshot. Failures are logged.
func (m *Manager) Persist(ctx context.Context) {
	if m.kv == nil || m.current.ID == "" {
		return
	}
	raw, err := json.Marshal(Snapshot{
		ID:           m.current.ID,
		CreatedAt:    m.current.CreatedAt,
		LastActivity: m.lastActivity,
	})
	if err == nil {
		err = m.kv.Set(ctx, m.key, raw)
	}
	if err != nil {
		metrics.LogErrors.WithLabelValues("session").Inc()
		logging.Warn().Err(err).Str("session_id", m.current.ID).Msg("Failed to persist session")
	}
}

// Wait blocks until every in-flight notification has finished.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) load(ctx context.Context) (Snapshot, bool) {
	var snap Snapshot
	if m.kv == nil {
		return snap, false
	}
	raw, err := m.kv.Get(ctx, m.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logging.Warn().Err(err).Msg("Failed to read stored session")
		}
		return snap, false
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		logging.Warn().Err(err).Msg("Discarding corrupt stored session")
		return snap, false
	}
	return snap, true
}

func (m *Manager) notify(kind string, send func(context.Context) error) {
	if m.notifier == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.notifyTimeout)
		defer cancel()
		err := send(ctx)
		metrics.RecordSessionNotification(kind, err)
		if err != nil {
			logging.Warn().Err(err).Str("kind", kind).Msg("Session notification failed")
		}
	}()
}
