// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package tracker

import (
	"context"

	"github.com/tomtom215/pulsetrack/internal/logging"
	"github.com/tomtom215/pulsetrack/internal/metrics"
	"github.com/tomtom215/pulsetrack/internal/models"
)

// Send modes reported to the sender and to metrics.
const (
	modeNormal   = "normal"
	modeRecovery = "recovery"
	modeSync     = "sync"
)

// drainBatch swaps the buffer out and encodes it. It returns nil when the
// buffer is empty.
func (t *Tracker) drainBatch(reason models.FlushReason) []byte {
	events := t.buffer.Drain()
	if len(events) == 0 {
		return nil
	}
	t.stats.Flushes++
	metrics.RecordFlush(string(reason), len(events))

	b := models.Batch{
		SessionID: events[0].SessionID,
		Events:    events,
		Metadata: models.BatchMetadata{
			UserAgent:    t.cfg.Page.UserAgent,
			Language:     t.cfg.Page.Language,
			ScreenWidth:  t.cfg.Page.ScreenWidth,
			ScreenHeight: t.cfg.Page.ScreenHeight,
			Timestamp:    models.UnixMillis(t.clock.Now()),
			Reason:       reason,
		},
	}
	payload, err := b.Encode(t.format)
	if err != nil {
		// Only unencodable custom data can get here; the batch is lost.
		logging.Error().Err(err).Int("events", len(events)).Msg("Failed to encode batch")
		return nil
	}
	return payload
}

// flush drains the buffer, writes the batch ahead and sends it from a worker.
func (t *Tracker) flush(reason models.FlushReason) {
	payload := t.drainBatch(reason)
	if payload == nil {
		return
	}
	t.sessions.Persist(t.ctx)

	seq := t.writeAhead(payload)
	if seq > 0 {
		t.log.Claim(seq)
	}
	t.dispatch(seq, payload)
}

// writeAhead appends payload to the durable log and returns its sequence, or
// zero when the batch has to travel memory-only.
func (t *Tracker) writeAhead(payload []byte) uint64 {
	if t.log == nil {
		t.stats.MemoryOnly++
		return 0
	}
	seq, _, err := t.log.WriteAhead(t.ctx, payload)
	if err != nil {
		t.stats.MemoryOnly++
		logging.Warn().Err(err).Int("bytes", len(payload)).Msg("Write-ahead failed, sending memory-only")
		return 0
	}
	return seq
}

func (t *Tracker) dispatch(seq uint64, payload []byte) {
	t.nextSendID++
	id := t.nextSendID
	t.inFlight[id] = inFlightSend{seq: seq, payload: payload}
	ctx := t.sendContext()

	t.sends.Add(1)
	go func() {
		defer t.sends.Done()
		err := t.deps.Sender.Send(ctx, modeNormal, payload)
		t.postWait(func() { t.onSendResult(ctx, id, err) })
	}()
}

// sendContext tags a send with the active session and a fresh correlation id.
func (t *Tracker) sendContext() context.Context {
	ctx := logging.ContextWithSessionID(context.Background(), t.sessions.ID())
	return logging.ContextWithCorrelationID(ctx, logging.GenerateCorrelationID())
}

// onSendResult runs on the loop when a normal send finishes.
func (t *Tracker) onSendResult(ctx context.Context, id uint64, err error) {
	f, ok := t.inFlight[id]
	if !ok {
		return
	}
	delete(t.inFlight, id)
	t.finish(ctx, f.seq, err)
}

// finish applies a send outcome to the durable log.
func (t *Tracker) finish(ctx context.Context, seq uint64, err error) {
	if err != nil {
		t.stats.Failed++
		if seq > 0 {
			t.log.Release(seq)
		}
		logging.Ctx(ctx).Warn().Err(err).Uint64("seq", seq).Msg("Batch send failed")
		return
	}
	t.stats.Acked++
	if seq > 0 {
		if rerr := t.log.Remove(t.ctx, seq); rerr != nil {
			logging.Ctx(ctx).Warn().Err(rerr).Uint64("seq", seq).Msg("Failed to remove acknowledged batch")
		}
	}
}

// sweep re-submits every persisted batch not already in flight, oldest first,
// from one worker so that their order is kept.
func (t *Tracker) sweep() {
	if t.log == nil || t.sweeping {
		return
	}
	recs := t.log.Sweep()
	if len(recs) == 0 {
		return
	}
	t.sweeping = true
	ctx := t.sendContext()
	logging.Ctx(ctx).Debug().Int("batches", len(recs)).Msg("Recovery sweep")

	t.sends.Add(1)
	go func() {
		defer t.sends.Done()
		for _, rec := range recs {
			metrics.RecoveryResends.Inc()
			err := t.deps.Sender.Send(ctx, modeRecovery, []byte(rec.Payload))
			seq := rec.Seq
			if !t.postWait(func() { t.finish(ctx, seq, err) }) {
				return
			}
		}
		t.postWait(func() { t.sweeping = false })
	}()
}

func (t *Tracker) armRecovery() {
	interval := t.cfg.Tracker.RecoveryInterval
	if interval <= 0 || t.log == nil {
		return
	}
	t.recovery = t.clock.AfterFunc(interval, func() {
		t.post(func() {
			if !t.running {
				return
			}
			t.sweep()
			t.armRecovery()
		})
	})
}

// teardownFlush sends the buffer best-effort: a beacon when one is accepted,
// otherwise a single synchronous request. A batch that fails both is written
// to the durable log for the next start.
func (t *Tracker) teardownFlush(reason models.FlushReason) {
	payload := t.drainBatch(reason)
	if payload == nil {
		return
	}
	if t.deps.Beacon != nil {
		err := t.deps.Beacon.Queue(payload)
		if err == nil {
			t.stats.Beacons++
			return
		}
		logging.Debug().Err(err).Msg("Beacon refused, sending synchronously")
	}

	t.stats.SyncSends++
	if err := t.deps.Sender.Send(t.ctx, modeSync, payload); err != nil {
		logging.Warn().Err(err).Msg("Teardown send failed, keeping batch for recovery")
		if seq := t.writeAhead(payload); seq > 0 {
			t.stats.Persisted++
		}
		return
	}
	t.stats.Acked++
}

// teardown runs on the loop for Stop.
func (t *Tracker) teardown() error {
	if !t.running {
		return ErrNotRunning
	}
	if t.dispose != nil {
		t.dispose()
	}
	t.sched.Stop()
	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	if t.recovery != nil {
		t.recovery.Stop()
	}

	now := t.clock.Now()
	current := t.sessions.Current()
	t.appendEvent(t.stamp(models.EventPageUnload, now, map[string]any{}))
	t.appendEvent(t.stamp(models.EventSessionEnd, now, map[string]any{
		"duration_ms": current.Duration(now).Milliseconds(),
		"cause":       "stop",
	}))
	t.teardownFlush(models.FlushTeardown)

	// Batches still in flight get a best-effort beacon too; persisted ones
	// also stay in the log until acknowledged.
	if t.deps.Beacon != nil {
		for _, f := range t.inFlight {
			if err := t.deps.Beacon.Queue(f.payload); err == nil {
				t.stats.Beacons++
			}
		}
	}

	if _, err := t.sessions.End(t.ctx, "stop"); err != nil {
		logging.Warn().Err(err).Msg("Session end failed")
	}
	t.running = false
	t.stats.Running = false

	logging.Info().
		Str("session_id", current.ID).
		Int("pending_batches", t.logLen()).
		Int("in_flight", len(t.inFlight)).
		Msg("Tracker stopped")
	return nil
}
