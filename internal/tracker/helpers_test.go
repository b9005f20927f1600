// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/pulsetrack/internal/capture"
	"github.com/tomtom215/pulsetrack/internal/clock"
	"github.com/tomtom215/pulsetrack/internal/config"
	"github.com/tomtom215/pulsetrack/internal/models"
	"github.com/tomtom215/pulsetrack/internal/storage"
	"github.com/tomtom215/pulsetrack/internal/websocket"
)

var epoch = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

var errCollectorDown = errors.New("collector down")

type sendCall struct {
	mode    string
	payload []byte
	acked   bool
}

// fakeSender acknowledges every request unless told to fail the next n.
type fakeSender struct {
	mu       sync.Mutex
	calls    []sendCall
	failNext int
	fail     func(call int) bool
}

func (f *fakeSender) Send(_ context.Context, mode string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := sendCall{mode: mode, payload: append([]byte(nil), payload...)}
	var err error
	switch {
	case f.failNext > 0:
		f.failNext--
		err = &models.TransportError{Op: "send", StatusCode: 503}
	case f.fail != nil && f.fail(len(f.calls)):
		err = &models.TransportError{Op: "send", Err: errCollectorDown}
	default:
		call.acked = true
	}
	f.calls = append(f.calls, call)
	return err
}

func (f *fakeSender) setFailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeSender) snapshot() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.calls...)
}

type fakeBeacon struct {
	mu     sync.Mutex
	refuse bool
	queued [][]byte
}

func (b *fakeBeacon) Queue(payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refuse {
		return errors.New("beacon refused")
	}
	b.queued = append(b.queued, append([]byte(nil), payload...))
	return nil
}

type fakeStream struct {
	mu        sync.Mutex
	connected bool
	sent      []models.TrackingEvent
}

func (s *fakeStream) Send(ev models.TrackingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return websocket.ErrNotConnected
	}
	s.sent = append(s.sent, ev)
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	created []string
	ended   []string
}

func (n *fakeNotifier) Create(_ context.Context, req models.SessionCreateRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, req.SessionID)
	return nil
}

func (n *fakeNotifier) End(_ context.Context, id string, _ models.SessionEndRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended = append(n.ended, id)
	return nil
}

// tb is the subset of testing.TB the harness needs; *rapid.T satisfies it.
type tb interface {
	Helper()
	Fatalf(format string, args ...any)
}

type harness struct {
	t        tb
	tr       *Tracker
	cfg      *config.Config
	clk      *clock.Fake
	src      *capture.ChannelSource
	kv       storage.KV
	sender   *fakeSender
	beacon   *fakeBeacon
	stream   *fakeStream
	notifier *fakeNotifier
}

type harnessOption func(*harness)

func withKV(kv storage.KV) harnessOption { return func(h *harness) { h.kv = kv } }

func withConfig(fn func(*config.Config)) harnessOption {
	return func(h *harness) { fn(h.cfg) }
}

func withoutBeacon() harnessOption { return func(h *harness) { h.beacon = nil } }

func newHarness(t tb, opts ...harnessOption) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Tracker.BatchSize = 5
	cfg.Page.URL = "https://shop.example/checkout"

	h := &harness{
		t:        t,
		cfg:      cfg,
		clk:      clock.NewFake(epoch),
		src:      capture.NewChannelSource(),
		kv:       storage.NewMemory(0),
		sender:   &fakeSender{},
		beacon:   &fakeBeacon{},
		stream:   &fakeStream{connected: true},
		notifier: &fakeNotifier{},
	}
	for _, o := range opts {
		o(h)
	}

	deps := Deps{
		Source:   h.src,
		KV:       h.kv,
		Sender:   h.sender,
		Notifier: h.notifier,
		Stream:   h.stream,
		Clock:    h.clk,
		Rand:     capture.NewRand(7),
	}
	if h.beacon != nil {
		deps.Beacon = h.beacon
	}
	tr, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.tr = tr
	return h
}

func (h *harness) start() {
	h.t.Helper()
	if err := h.tr.Start(context.Background()); err != nil {
		h.t.Fatalf("Start: %v", err)
	}
	if c, ok := h.t.(interface{ Cleanup(func()) }); ok {
		c.Cleanup(func() { _ = h.tr.Stop() })
	}
}

// startClean starts the tracker and acknowledges the session_start and
// page_view records so that tests begin with an empty buffer.
func (h *harness) startClean() {
	h.t.Helper()
	h.start()
	if err := h.tr.Flush(); err != nil {
		h.t.Fatalf("Flush: %v", err)
	}
	h.settle()
	h.sender.reset()
}

func (h *harness) settle() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.tr.Settle(ctx); err != nil {
		h.t.Fatalf("Settle: %v", err)
	}
}

func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	h.clk.Advance(d)
	h.settle()
}

func (h *harness) stats() Stats {
	h.t.Helper()
	s, err := h.tr.Stats()
	if err != nil {
		h.t.Fatalf("Stats: %v", err)
	}
	return s
}

func (h *harness) click(i int) {
	h.src.Emit(capture.RawEvent{
		Kind:          models.EventMouseClick,
		Time:          h.clk.Now(),
		X:             float64(i),
		Y:             10,
		ViewportWidth: 1280, ViewportHeight: 720,
		Target: &capture.Element{Tag: "button", ID: "buy", Text: "Buy"},
	})
}

func decode(t tb, payload []byte) (string, []models.TrackingEvent) {
	t.Helper()
	sid, events, err := models.DecodeEvents(payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return sid, events
}

func eventTypes(events []models.TrackingEvent) []models.EventType {
	out := make([]models.EventType, len(events))
	for i, e := range events {
		out[i] = e.EventType
	}
	return out
}
