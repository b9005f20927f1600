// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package receiver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/pulsetrack/internal/capture"
	"github.com/tomtom215/pulsetrack/internal/config"
	"github.com/tomtom215/pulsetrack/internal/delivery"
	"github.com/tomtom215/pulsetrack/internal/models"
	"github.com/tomtom215/pulsetrack/internal/storage"
	"github.com/tomtom215/pulsetrack/internal/tracker"
	"github.com/tomtom215/pulsetrack/internal/websocket"
)

// TestTrackerAgainstReceiver runs a tracker over real HTTP and websocket
// transports into the receiver.
func TestTrackerAgainstReceiver(t *testing.T) {
	s, ts := newTestServer(t, nil)

	cfg := config.Default()
	cfg.Tracker.BatchSize = 5
	cfg.Tracker.EventsEndpoint = ts.URL + "/api/events"
	cfg.Tracker.SessionsEndpoint = ts.URL + "/api/sessions"
	cfg.Stream.URL = "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	cfg.Stream.ReconnectDelay = 50 * time.Millisecond

	httpClient := delivery.NewHTTPClient(cfg.Delivery.SendTimeout)
	stream := websocket.NewStreamClient(websocket.StreamOptionsFromConfig(&cfg.Stream, nil))
	src := capture.NewChannelSource()

	tr, err := tracker.New(cfg, tracker.Deps{
		Source:   src,
		KV:       storage.NewMemory(0),
		Sender:   delivery.NewBulkClient(cfg.Tracker.EventsEndpoint, &cfg.Delivery, httpClient),
		Notifier: delivery.NewSessionClient(cfg.Tracker.SessionsEndpoint, httpClient),
		Stream:   stream,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, stream.Connected)

	for i := 0; i < 8; i++ {
		src.Emit(capture.RawEvent{
			Kind:   models.EventMouseClick,
			X:      float64(i),
			Y:      1,
			Target: &capture.Element{Tag: "a", Attributes: map[string]string{"href": "/next"}},
		})
	}

	st, err := tr.Stats()
	if err != nil {
		t.Fatal(err)
	}
	sid := st.SessionID

	// Clicks are mirrored on the stream as well as batched.
	waitFor(t, func() bool {
		n := 0
		for _, ev := range s.Store().Streamed(sid) {
			if ev.EventType == models.EventMouseClick {
				n++
			}
		}
		return n == 8
	})
	waitFor(t, func() bool {
		_, ok := s.Store().Session(sid)
		return ok
	})

	if err := tr.Stop(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	counts := make(map[models.EventType]int)
	for _, ev := range s.Store().Events(sid) {
		counts[ev.EventType]++
	}
	want := map[models.EventType]int{
		models.EventSessionStart: 1,
		models.EventPageView:     1,
		models.EventMouseClick:   8,
		models.EventPageUnload:   1,
		models.EventSessionEnd:   1,
	}
	for typ, n := range want {
		if counts[typ] != n {
			t.Errorf("%s: received %d, want %d", typ, counts[typ], n)
		}
	}

	rec, ok := s.Store().Session(sid)
	if !ok {
		t.Fatalf("session %s never created", sid)
	}
	if rec.EndedAt == nil {
		t.Error("session end not received")
	}

}
