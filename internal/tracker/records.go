// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package tracker

import (
	"errors"
	"time"

	"github.com/tomtom215/pulsetrack/internal/capture"
	"github.com/tomtom215/pulsetrack/internal/logging"
	"github.com/tomtom215/pulsetrack/internal/metrics"
	"github.com/tomtom215/pulsetrack/internal/models"
	"github.com/tomtom215/pulsetrack/internal/websocket"
)

// onRecord stamps an accepted record with the active session and appends it.
func (t *Tracker) onRecord(rec capture.Record) {
	if !t.running {
		metrics.RecordCapture(string(rec.Type), "inactive")
		return
	}
	if t.sessions.Expired(rec.Time) {
		t.rotate()
	}

	t.sessions.Touch(rec.Time)
	n := t.appendEvent(t.stamp(rec.Type, rec.Time, rec.Data))

	switch rec.Type {
	case models.EventVisibilityChange:
		if reason, ok := t.sched.OnVisibility(rec.Hidden, n); ok {
			t.flush(reason)
			return
		}
	case models.EventPageUnload:
		if reason, ok := t.sched.OnTeardown(n); ok {
			t.sessions.Persist(t.ctx)
			t.teardownFlush(reason)
			return
		}
	}
	if reason, ok := t.sched.AfterAppend(n); ok {
		t.flush(reason)
	}
}

func (t *Tracker) stamp(typ models.EventType, at time.Time, data map[string]any) models.TrackingEvent {
	return models.TrackingEvent{
		EventType: typ,
		Timestamp: models.UnixMillis(at),
		URL:       t.cfg.Page.URL,
		SessionID: t.sessions.ID(),
		Data:      data,
	}
}

// appendEvent buffers ev, mirrors it on the stream when its type is
// streamed, and returns the buffer length.
func (t *Tracker) appendEvent(ev models.TrackingEvent) int {
	n := t.buffer.Append(ev)
	if t.deps.Stream != nil && t.streamTypes[ev.EventType] {
		if err := t.deps.Stream.Send(ev); err != nil {
			t.stats.StreamDropped++
			if !errors.Is(err, websocket.ErrNotConnected) {
				logging.Debug().Err(err).Str("event_type", string(ev.EventType)).Msg("Stream send failed")
			}
		}
	}
	return n
}

func (t *Tracker) onTick() {
	if !t.running {
		return
	}
	if reason, ok := t.sched.OnTick(t.buffer.Len()); ok {
		t.flush(reason)
	}
}

// rotate ends the idle session, flushes its records and starts a new one.
func (t *Tracker) rotate() {
	now := t.clock.Now()
	ended := t.sessions.Current()
	t.appendEvent(t.stamp(models.EventSessionEnd, now, map[string]any{
		"duration_ms": ended.Duration(now).Milliseconds(),
		"cause":       "idle",
	}))
	t.flush(models.FlushRotate)

	if _, started, err := t.sessions.Rotate(t.ctx); err != nil {
		logging.Warn().Err(err).Msg("Session rotation failed")
	} else {
		t.stats.Rotations++
		t.appendEvent(t.stamp(models.EventSessionStart, now, map[string]any{
			"user_agent":       t.cfg.Page.UserAgent,
			"referrer":         t.cfg.Page.Referrer,
			"previous_session": ended.ID,
		}))
		logging.Info().Str("ended", ended.ID).Str("started", started.ID).Msg("Session rotated after inactivity")
	}
}

// armIdle schedules the next idle check at the session's idle deadline.
func (t *Tracker) armIdle() {
	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	d := t.sessions.IdleDeadline().Sub(t.clock.Now())
	if d < 0 {
		d = 0
	}
	t.idleTimer = t.clock.AfterFunc(d, func() { t.post(t.checkIdle) })
}

func (t *Tracker) checkIdle() {
	if !t.running {
		return
	}
	if t.sessions.Expired(t.clock.Now()) {
		t.rotate()
	}
	t.sessions.Persist(t.ctx)
	t.armIdle()
}
