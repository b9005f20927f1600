// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package tracker

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"pgregory.net/rapid"

	"github.com/tomtom215/pulsetrack/internal/capture"
	"github.com/tomtom215/pulsetrack/internal/config"
	"github.com/tomtom215/pulsetrack/internal/models"
	"github.com/tomtom215/pulsetrack/internal/storage"
	"github.com/tomtom215/pulsetrack/internal/store"
)

func TestBatchOfFiveClicks(t *testing.T) {
	h := newHarness(t)
	h.startClean()

	for i := 0; i < 5; i++ {
		h.click(i)
	}
	h.settle()

	calls := h.sender.snapshot()
	if len(calls) != 1 {
		t.Fatalf("sends = %d, want 1", len(calls))
	}
	if calls[0].mode != modeNormal {
		t.Errorf("mode = %q, want %q", calls[0].mode, modeNormal)
	}
	sid, events := decode(t, calls[0].payload)
	if len(events) != 5 {
		t.Fatalf("events = %d, want 5", len(events))
	}
	for i, ev := range events {
		if ev.EventType != models.EventMouseClick {
			t.Errorf("events[%d] = %s, want mouse_click", i, ev.EventType)
		}
		if ev.SessionID != sid {
			t.Errorf("events[%d] session = %q, want %q", i, ev.SessionID, sid)
		}
		if ev.URL != h.cfg.Page.URL {
			t.Errorf("events[%d] url = %q", i, ev.URL)
		}
	}

	st := h.stats()
	if st.Buffered != 0 || st.LogEntries != 0 || st.InFlight != 0 {
		t.Errorf("stats after ack = %+v, want empty buffer, log and in-flight set", st)
	}
}

func TestFailedBatchIsRecoveredUnchanged(t *testing.T) {
	h := newHarness(t)
	h.startClean()
	h.sender.setFailNext(3)

	for i := 0; i < 5; i++ {
		h.click(i)
	}
	h.settle()

	st := h.stats()
	if st.LogEntries != 1 {
		t.Fatalf("log entries after failure = %d, want 1", st.LogEntries)
	}
	if st.Buffered != 0 {
		t.Fatalf("failed batch was re-appended: buffered = %d", st.Buffered)
	}

	for i := 0; i < 5 && h.stats().LogEntries > 0; i++ {
		h.advance(h.cfg.Tracker.RecoveryInterval)
	}

	calls := h.sender.snapshot()
	if len(calls) != 4 {
		t.Fatalf("sends = %d, want 4 (1 normal + 3 recovery)", len(calls))
	}
	for i, c := range calls[1:] {
		if c.mode != modeRecovery {
			t.Errorf("call %d mode = %q, want recovery", i+1, c.mode)
		}
		if !bytes.Equal(c.payload, calls[0].payload) {
			t.Errorf("call %d payload differs from the original batch", i+1)
		}
	}

	st = h.stats()
	if st.LogEntries != 0 {
		t.Errorf("log entries = %d, want 0", st.LogEntries)
	}
	if st.Failed != 3 {
		t.Errorf("failed = %d, want 3", st.Failed)
	}
	if st.Buffered != 0 {
		t.Errorf("buffered = %d, want 0", st.Buffered)
	}
}

func TestStopBeaconsRemainingEvents(t *testing.T) {
	h := newHarness(t)
	h.startClean()

	for i := 0; i < 3; i++ {
		h.click(i)
	}
	if err := h.tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if len(h.beacon.queued) != 1 {
		t.Fatalf("beacons = %d, want 1", len(h.beacon.queued))
	}
	_, events := decode(t, h.beacon.queued[0])
	want := []models.EventType{
		models.EventMouseClick, models.EventMouseClick, models.EventMouseClick,
		models.EventPageUnload, models.EventSessionEnd,
	}
	if got := eventTypes(events); !equalTypes(got, want) {
		t.Fatalf("beacon events = %v, want %v", got, want)
	}
	if events[4].Data["cause"] != "stop" {
		t.Errorf("session_end cause = %v, want stop", events[4].Data["cause"])
	}
	if n := h.tr.buffer.Len(); n != 0 {
		t.Errorf("buffer = %d after stop, want 0", n)
	}
	if len(h.sender.snapshot()) != 0 {
		t.Error("teardown used the bulk sender although the beacon accepted")
	}
	if err := h.tr.Flush(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Flush after Stop = %v, want ErrNotRunning", err)
	}
}

func TestStopFallsBackToSyncSend(t *testing.T) {
	h := newHarness(t)
	h.beacon.refuse = true
	h.startClean()

	h.click(1)
	if err := h.tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	calls := h.sender.snapshot()
	if len(calls) != 1 || calls[0].mode != modeSync {
		t.Fatalf("calls = %+v, want one sync send", calls)
	}
	if h.tr.stats.SyncSends != 1 || h.tr.stats.Persisted != 0 {
		t.Errorf("stats = %+v", h.tr.stats)
	}
}

func TestTeardownFailurePersistsForNextStart(t *testing.T) {
	kv := storage.NewMemory(0)
	h := newHarness(t, withKV(kv), withoutBeacon())
	h.startClean()

	h.click(1)
	h.click(2)
	h.sender.setFailNext(1)
	if err := h.tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h.tr.stats.Persisted != 1 {
		t.Fatalf("persisted = %d, want 1", h.tr.stats.Persisted)
	}
	lost := h.sender.snapshot()[0].payload

	// A new tracker over the same storage resubmits it at start.
	next := newHarness(t, withKV(kv))
	next.start()
	next.settle()

	calls := next.sender.snapshot()
	if len(calls) != 1 {
		t.Fatalf("sends at restart = %d, want 1", len(calls))
	}
	if calls[0].mode != modeRecovery || !bytes.Equal(calls[0].payload, lost) {
		t.Errorf("restart resent %q in mode %s", calls[0].payload, calls[0].mode)
	}
	if n := next.stats().LogEntries; n != 0 {
		t.Errorf("log entries after recovery = %d, want 0", n)
	}
}

func TestStartupRecoveryKeepsOrder(t *testing.T) {
	kv := storage.NewMemory(0)
	log, err := store.Open(context.Background(), kv, store.Options{})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	var seeded [][]byte
	for i := 0; i < 3; i++ {
		b := models.Batch{
			SessionID: "old-session",
			Events: []models.TrackingEvent{{
				EventType: models.EventMouseClick,
				Timestamp: int64(i),
				SessionID: "old-session",
			}},
		}
		p, err := b.Encode(models.PayloadBatch)
		if err != nil {
			t.Fatal(err)
		}
		if _, _, err := log.WriteAhead(context.Background(), p); err != nil {
			t.Fatal(err)
		}
		seeded = append(seeded, p)
	}

	h := newHarness(t, withKV(kv))
	h.start()
	h.settle()

	calls := h.sender.snapshot()
	if len(calls) != 3 {
		t.Fatalf("sends = %d, want 3", len(calls))
	}
	for i, c := range calls {
		if !bytes.Equal(c.payload, seeded[i]) {
			t.Errorf("send %d out of order", i)
		}
	}
	if n := h.stats().LogEntries; n != 0 {
		t.Errorf("log entries = %d, want 0", n)
	}
}

func TestHiddenFlushesImmediately(t *testing.T) {
	h := newHarness(t)
	h.startClean()

	h.click(1)
	h.click(2)
	h.src.Emit(capture.RawEvent{Kind: models.EventVisibilityChange, Time: h.clk.Now(), Hidden: true})
	h.settle()

	calls := h.sender.snapshot()
	if len(calls) != 1 {
		t.Fatalf("sends = %d, want 1", len(calls))
	}
	var b models.Batch
	if err := json.Unmarshal(calls[0].payload, &b); err != nil {
		t.Fatal(err)
	}
	if b.Metadata.Reason != models.FlushHidden {
		t.Errorf("reason = %q, want hidden", b.Metadata.Reason)
	}
	if len(b.Events) != 3 {
		t.Errorf("events = %d, want 3", len(b.Events))
	}
}

func TestVisibleDoesNotFlush(t *testing.T) {
	h := newHarness(t)
	h.startClean()

	h.click(1)
	h.src.Emit(capture.RawEvent{Kind: models.EventVisibilityChange, Time: h.clk.Now()})
	h.settle()

	if n := len(h.sender.snapshot()); n != 0 {
		t.Errorf("sends = %d, want 0", n)
	}
	if st := h.stats(); st.Buffered != 2 {
		t.Errorf("buffered = %d, want 2", st.Buffered)
	}
}

func TestIntervalFlush(t *testing.T) {
	h := newHarness(t)
	h.startClean()

	h.click(1)
	h.settle()
	h.advance(h.cfg.Tracker.BatchInterval)

	calls := h.sender.snapshot()
	if len(calls) != 1 {
		t.Fatalf("sends = %d, want 1", len(calls))
	}
	var b models.Batch
	if err := json.Unmarshal(calls[0].payload, &b); err != nil {
		t.Fatal(err)
	}
	if b.Metadata.Reason != models.FlushInterval {
		t.Errorf("reason = %q, want interval", b.Metadata.Reason)
	}
}

func TestIdleRotation(t *testing.T) {
	h := newHarness(t, withConfig(func(c *config.Config) {
		c.Tracker.BatchInterval = 10 * time.Minute
		c.Tracker.RecoveryInterval = 10 * time.Minute
	}))
	h.startClean()
	first := h.stats().SessionID

	h.advance(h.cfg.Tracker.IdleTimeout)
	h.click(1)
	if err := h.tr.Flush(); err != nil {
		t.Fatal(err)
	}
	h.settle()

	st := h.stats()
	if st.Rotations != 1 {
		t.Fatalf("rotations = %d, want 1", st.Rotations)
	}
	if st.SessionID == "" || st.SessionID == first {
		t.Fatalf("session id = %q after rotation, first was %q", st.SessionID, first)
	}

	var all []models.TrackingEvent
	for _, c := range h.sender.snapshot() {
		_, evs := decode(t, c.payload)
		all = append(all, evs...)
	}
	var sawEnd, sawStart, sawClick bool
	for _, ev := range all {
		switch ev.EventType {
		case models.EventSessionEnd:
			sawEnd = true
			if ev.SessionID != first || ev.Data["cause"] != "idle" {
				t.Errorf("session_end = %+v", ev)
			}
		case models.EventSessionStart:
			sawStart = true
			if ev.SessionID != st.SessionID || ev.Data["previous_session"] != first {
				t.Errorf("session_start = %+v", ev)
			}
		case models.EventMouseClick:
			sawClick = true
			if ev.SessionID != st.SessionID {
				t.Errorf("click stamped with %q, want %q", ev.SessionID, st.SessionID)
			}
		}
	}
	if !sawEnd || !sawStart || !sawClick {
		t.Errorf("end=%v start=%v click=%v", sawEnd, sawStart, sawClick)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.tr.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	if len(h.notifier.created) != 2 || len(h.notifier.ended) != 1 {
		t.Errorf("notifications created=%v ended=%v", h.notifier.created, h.notifier.ended)
	}
}

func TestStreamMirrorsHighValueTypes(t *testing.T) {
	h := newHarness(t)
	h.startClean()

	h.click(1)
	h.src.Emit(capture.RawEvent{Kind: models.EventViewportResize, Time: h.clk.Now(), ViewportWidth: 800, ViewportHeight: 600})
	h.settle()

	h.stream.mu.Lock()
	got := eventTypes(h.stream.sent)
	h.stream.connected = false
	h.stream.mu.Unlock()

	want := []models.EventType{models.EventSessionStart, models.EventMouseClick}
	if !equalTypes(got, want) {
		t.Errorf("streamed %v, want %v", got, want)
	}

	h.click(2)
	h.settle()
	st := h.stats()
	if st.StreamDropped != 1 {
		t.Errorf("stream dropped = %d, want 1", st.StreamDropped)
	}
	if st.Buffered != 3 {
		t.Errorf("buffered = %d, want 3 (stream loss never affects bulk)", st.Buffered)
	}
}

func TestMemoryOnlyWhenStorageRejectsWrites(t *testing.T) {
	h := newHarness(t, withKV(storage.NewMemory(32)))
	h.startClean()
	h.sender.setFailNext(1)

	for i := 0; i < 5; i++ {
		h.click(i)
	}
	h.settle()

	st := h.stats()
	if st.MemoryOnly < 2 {
		t.Errorf("memory-only batches = %d, want at least 2", st.MemoryOnly)
	}
	if st.LogEntries != 0 || st.Buffered != 0 {
		t.Errorf("failed memory-only batch kept: %+v", st)
	}

	h.advance(h.cfg.Tracker.RecoveryInterval)
	if n := len(h.sender.snapshot()); n != 1 {
		t.Errorf("sends = %d, want 1 (no recovery without a log)", n)
	}
}

func TestTrackCustom(t *testing.T) {
	h := newHarness(t)
	h.startClean()

	if err := h.tr.TrackCustom("checkout", map[string]any{"total": 42}); err != nil {
		t.Fatal(err)
	}
	if err := h.tr.TrackCustom("  ", nil); err == nil {
		t.Error("empty custom name accepted")
	}
	if err := h.tr.Flush(); err != nil {
		t.Fatal(err)
	}
	h.settle()

	calls := h.sender.snapshot()
	if len(calls) != 1 {
		t.Fatalf("sends = %d, want 1", len(calls))
	}
	_, events := decode(t, calls[0].payload)
	if len(events) != 1 || events[0].EventType != "custom_checkout" {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Data["total"] != float64(42) {
		t.Errorf("total = %v", events[0].Data["total"])
	}
}

func TestTrackCustomRejectsUnencodableData(t *testing.T) {
	h := newHarness(t)
	h.startClean()

	h.click(1)
	h.click(2)
	tests := []struct {
		name string
		data map[string]any
	}{
		{"nan", map[string]any{"v": math.NaN()}},
		{"inf", map[string]any{"v": math.Inf(1)}},
		{"channel", map[string]any{"v": make(chan int)}},
		{"func", map[string]any{"v": func() {}}},
	}
	for _, tt := range tests {
		err := h.tr.TrackCustom("bad", tt.data)
		var ce *models.CaptureError
		if !errors.As(err, &ce) {
			t.Errorf("%s: err = %v, want CaptureError", tt.name, err)
		}
	}
	if err := h.tr.Flush(); err != nil {
		t.Fatal(err)
	}
	h.settle()

	calls := h.sender.snapshot()
	if len(calls) != 1 {
		t.Fatalf("sends = %d, want 1", len(calls))
	}
	_, events := decode(t, calls[0].payload)
	if got := eventTypes(events); !equalTypes(got, []models.EventType{models.EventMouseClick, models.EventMouseClick}) {
		t.Errorf("events = %v", got)
	}
	if st := h.stats(); st.Buffered != 0 || st.LogEntries != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestTrackCustomCopiesData(t *testing.T) {
	h := newHarness(t)
	h.startClean()

	data := map[string]any{"total": 1, "items": []any{"a"}}
	if err := h.tr.TrackCustom("checkout", data); err != nil {
		t.Fatal(err)
	}
	data["total"] = 999
	data["items"].([]any)[0] = "z"
	if err := h.tr.Flush(); err != nil {
		t.Fatal(err)
	}
	h.settle()

	calls := h.sender.snapshot()
	if len(calls) != 1 {
		t.Fatalf("sends = %d, want 1", len(calls))
	}
	_, events := decode(t, calls[0].payload)
	if len(events) != 1 {
		t.Fatalf("events = %+v", events)
	}
	if got := events[0].Data["total"]; got != float64(1) {
		t.Errorf("total = %v, want 1", got)
	}
	if got := events[0].Data["items"].([]any)[0]; got != "a" {
		t.Errorf("items[0] = %v, want a", got)
	}
}

func TestPageViewCarriesTitle(t *testing.T) {
	h := newHarness(t, withConfig(func(c *config.Config) {
		c.Page.Title = "Checkout"
	}))
	h.start()
	if err := h.tr.Flush(); err != nil {
		t.Fatal(err)
	}
	h.settle()

	calls := h.sender.snapshot()
	if len(calls) != 1 {
		t.Fatalf("sends = %d, want 1", len(calls))
	}
	_, events := decode(t, calls[0].payload)
	if len(events) != 2 || events[1].EventType != models.EventPageView {
		t.Fatalf("events = %v", eventTypes(events))
	}
	if got := events[1].Data["title"]; got != "Checkout" {
		t.Errorf("title = %v, want Checkout", got)
	}
}

func TestDisabledKindsAreNotSubscribed(t *testing.T) {
	h := newHarness(t, withConfig(func(c *config.Config) {
		c.Capture.Disabled = []string{string(models.EventMouseClick)}
	}))
	h.startClean()

	h.click(1)
	h.settle()
	if st := h.stats(); st.Buffered != 0 {
		t.Errorf("buffered = %d, want 0 for a disabled kind", st.Buffered)
	}
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t)
	h.start()
	if err := h.tr.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestStopBeforeStart(t *testing.T) {
	h := newHarness(t)
	if err := h.tr.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop = %v, want ErrNotRunning", err)
	}
}

func TestNoLossNoDuplication(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 40).Draw(rt, "clicks")
		failures := rapid.SliceOfN(rapid.Bool(), 0, 12).Draw(rt, "failures")

		h := newHarness(rt)
		h.startClean()
		defer func() { _ = h.tr.Stop() }()

		h.sender.mu.Lock()
		h.sender.fail = func(call int) bool { return call < len(failures) && failures[call] }
		h.sender.mu.Unlock()

		for i := 0; i < n; i++ {
			h.click(i)
		}
		if err := h.tr.Flush(); err != nil {
			rt.Fatalf("Flush: %v", err)
		}
		h.settle()
		for i := 0; i < 20 && h.stats().LogEntries > 0; i++ {
			h.advance(h.cfg.Tracker.RecoveryInterval)
		}
		if st := h.stats(); st.LogEntries != 0 {
			rt.Fatalf("log not drained: %+v", st)
		}

		seen := make(map[float64]int)
		for _, c := range h.sender.snapshot() {
			if !c.acked {
				continue
			}
			_, events := decode(rt, c.payload)
			for _, ev := range events {
				if ev.EventType == models.EventMouseClick {
					seen[ev.Data["x"].(float64)]++
				}
			}
		}
		for i := 0; i < n; i++ {
			if seen[float64(i)] != 1 {
				rt.Fatalf("click %d acknowledged %d times", i, seen[float64(i)])
			}
		}
	})
}

func equalTypes(a, b []models.EventType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
