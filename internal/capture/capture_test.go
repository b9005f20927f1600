// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package capture

import (
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/tomtom215/pulsetrack/internal/clock"
	"github.com/tomtom215/pulsetrack/internal/models"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type collector struct {
	records []Record
}

func (c *collector) emit(r Record) { c.records = append(c.records, r) }

func newTestCapturer(policies map[models.EventType]Policy, seed uint64) *Capturer {
	return New(Options{
		Policies:   policies,
		Normalizer: NewNormalizer(100, 3, false, 64, true),
		Clock:      clock.NewFake(epoch),
		Rand:       NewRand(seed),
	})
}

func subscribe(t *testing.T, c *Capturer, kinds ...models.EventType) (*ChannelSource, *collector) {
	t.Helper()
	src := NewChannelSource()
	col := &collector{}
	dispose, err := c.Subscribe(src, kinds, col.emit)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	t.Cleanup(dispose)
	return src, col
}

func move(at time.Time, x, y float64) RawEvent {
	return RawEvent{Kind: models.EventMouseMove, Time: at, X: x, Y: y, ViewportWidth: 1000, ViewportHeight: 800}
}

func TestThrottleSpacing(t *testing.T) {
	const interval = 100 * time.Millisecond
	rapid.Check(t, func(rt *rapid.T) {
		gaps := rapid.SliceOfN(rapid.IntRange(0, 300), 1, 200).Draw(rt, "gaps_ms")

		c := newTestCapturer(map[models.EventType]Policy{
			models.EventMouseMove: {SampleRate: 1, Throttle: interval},
		}, 1)
		src := NewChannelSource()
		col := &collector{}
		dispose, err := c.Subscribe(src, []models.EventType{models.EventMouseMove}, col.emit)
		if err != nil {
			rt.Fatalf("Subscribe: %v", err)
		}
		defer dispose()

		at := epoch
		var lastAccepted time.Time
		for i, g := range gaps {
			at = at.Add(time.Duration(g) * time.Millisecond)
			before := len(col.records)
			src.Emit(move(at, float64(i), 0))
			accepted := len(col.records) > before

			if i == 0 && !accepted {
				rt.Fatalf("first event dropped")
			}
			if !lastAccepted.IsZero() && at.Sub(lastAccepted) >= 2*interval && !accepted {
				rt.Fatalf("event %v after last accepted was dropped", at.Sub(lastAccepted))
			}
			if accepted {
				lastAccepted = at
			}
		}

		for i := 1; i < len(col.records); i++ {
			if d := col.records[i].Time.Sub(col.records[i-1].Time); d < interval {
				rt.Fatalf("accepted records %d and %d only %v apart", i-1, i, d)
			}
		}
	})
}

func TestThrottleDropsDoNotExtendWindow(t *testing.T) {
	c := newTestCapturer(map[models.EventType]Policy{
		models.EventScroll: {SampleRate: 1, Throttle: 200 * time.Millisecond},
	}, 1)
	src, col := subscribe(t, c, models.EventScroll)

	for _, ms := range []int{0, 50, 100, 150, 199, 200, 250, 400} {
		src.Emit(RawEvent{Kind: models.EventScroll, Time: epoch.Add(time.Duration(ms) * time.Millisecond), ScrollY: float64(ms)})
	}

	want := []float64{0, 200, 400}
	if len(col.records) != len(want) {
		t.Fatalf("accepted %d records, want %d", len(col.records), len(want))
	}
	for i, w := range want {
		if got := col.records[i].Data["scroll_y"]; got != w {
			t.Errorf("record %d scroll_y = %v, want %v", i, got, w)
		}
	}
	if st := c.Stats(); st.Throttled != 5 {
		t.Errorf("Throttled = %d, want 5", st.Throttled)
	}
}

// scriptedRand returns draws in order.
type scriptedRand struct {
	draws []float64
}

func (r *scriptedRand) Float64() float64 {
	v := r.draws[0]
	r.draws = r.draws[1:]
	return v
}

func TestSampledOutEventsDoNotConsumeThrottle(t *testing.T) {
	c := New(Options{
		Policies: map[models.EventType]Policy{
			models.EventMouseMove: {SampleRate: 0.5, Throttle: 100 * time.Millisecond},
		},
		Normalizer: NewNormalizer(100, 3, false, 64, true),
		Clock:      clock.NewFake(epoch),
		Rand:       &scriptedRand{draws: []float64{0.9, 0.1, 0.1}},
	})
	src, col := subscribe(t, c, models.EventMouseMove)

	for _, ms := range []int{0, 50, 120, 160} {
		src.Emit(move(epoch.Add(time.Duration(ms)*time.Millisecond), float64(ms), 0))
	}

	// 0 is sampled out, 50 is kept, 120 is inside 50's window, 160 is kept.
	want := []float64{50, 160}
	if len(col.records) != len(want) {
		t.Fatalf("accepted %d records, want %d", len(col.records), len(want))
	}
	for i, w := range want {
		if got := col.records[i].Data["x"]; got != w {
			t.Errorf("record %d x = %v, want %v", i, got, w)
		}
	}
	st := c.Stats()
	if st.Sampled != 1 || st.Throttled != 1 || st.Accepted != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestMalformedEventsDoNotConsumeThrottle(t *testing.T) {
	c := newTestCapturer(map[models.EventType]Policy{
		models.EventMouseClick: {SampleRate: 1, Throttle: time.Second},
	}, 1)
	src, col := subscribe(t, c, models.EventMouseClick)

	src.Emit(RawEvent{Kind: models.EventMouseClick, Time: epoch})
	src.Emit(RawEvent{Kind: models.EventMouseClick, Time: epoch.Add(10 * time.Millisecond), Target: &Element{Tag: "button"}})

	if len(col.records) != 1 {
		t.Fatalf("got %d records, want 1", len(col.records))
	}
	if st := c.Stats(); st.Invalid != 1 || st.Throttled != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSamplingConvergence(t *testing.T) {
	const n = 20000
	for _, p := range []float64{0.1, 0.5, 0.9} {
		c := newTestCapturer(map[models.EventType]Policy{
			models.EventMouseMove: {SampleRate: p},
		}, 42)
		src := NewChannelSource()
		col := &collector{}
		if _, err := c.Subscribe(src, []models.EventType{models.EventMouseMove}, col.emit); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < n; i++ {
			src.Emit(move(epoch.Add(time.Duration(i)*time.Millisecond), float64(i), 0))
		}
		got := float64(len(col.records)) / n
		if got < p-0.02 || got > p+0.02 {
			t.Errorf("p=%.1f: observed rate %.4f", p, got)
		}
	}
}

// 100 movement events at rate 0.1 without throttling land near 10.
func TestScenarioMovementSampling(t *testing.T) {
	const seeds = 50
	total := 0
	for seed := uint64(1); seed <= seeds; seed++ {
		c := newTestCapturer(map[models.EventType]Policy{
			models.EventMouseMove: {SampleRate: 0.1},
		}, seed)
		src := NewChannelSource()
		col := &collector{}
		if _, err := c.Subscribe(src, []models.EventType{models.EventMouseMove}, col.emit); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 100; i++ {
			src.Emit(move(epoch, float64(i), float64(i)))
		}
		if n := len(col.records); n > 30 {
			t.Errorf("seed %d: accepted %d of 100", seed, n)
		}
		if st := c.Stats(); st.Accepted+st.Sampled != 100 {
			t.Errorf("seed %d: accepted+sampled = %d", seed, st.Accepted+st.Sampled)
		}
		total += len(col.records)
	}
	mean := float64(total) / seeds
	if mean < 8 || mean > 12 {
		t.Errorf("mean accepted = %.2f, want about 10", mean)
	}
}

func TestDeadZone(t *testing.T) {
	c := New(Options{
		Policies:        map[models.EventType]Policy{},
		MinMoveDistance: 10,
		Clock:           clock.NewFake(epoch),
		Rand:            NewRand(1),
	})
	src, col := subscribe(t, c, models.EventMouseMove)

	src.Emit(move(epoch, 100, 100))
	src.Emit(move(epoch, 105, 95))  // inside
	src.Emit(move(epoch, 109, 109)) // inside
	src.Emit(move(epoch, 100, 111)) // y moved 11
	src.Emit(move(epoch, 95, 115))  // inside of the new anchor

	if len(col.records) != 2 {
		t.Fatalf("accepted %d, want 2", len(col.records))
	}
	if st := c.Stats(); st.DeadZone != 3 {
		t.Errorf("DeadZone = %d, want 3", st.DeadZone)
	}
}

func TestPositionalData(t *testing.T) {
	c := newTestCapturer(map[models.EventType]Policy{}, 1)
	src, col := subscribe(t, c, models.EventMouseClick)

	src.Emit(RawEvent{
		Kind: models.EventMouseClick, Time: epoch,
		X: 250, Y: 200, PageX: 250, PageY: 1200,
		ViewportWidth: 1000, ViewportHeight: 800,
		Target: &Element{Tag: "BUTTON", ID: "buy", Text: "  Buy\n now ", Attributes: map[string]string{"title": "Buy", "onclick": "x()"}},
	})
	if len(col.records) != 1 {
		t.Fatalf("got %d records", len(col.records))
	}
	d := col.records[0].Data
	if d["relative_x"] != 0.25 || d["relative_y"] != 0.25 {
		t.Errorf("relative = %v,%v", d["relative_x"], d["relative_y"])
	}
	if d["page_y"] != float64(1200) {
		t.Errorf("page_y = %v", d["page_y"])
	}
	el := d["element"].(map[string]any)
	if el["tag"] != "button" || el["id"] != "buy" || el["text"] != "Buy now" {
		t.Errorf("element = %v", el)
	}
	attrs := el["attributes"].(map[string]any)
	if _, ok := attrs["onclick"]; ok || attrs["title"] != "Buy" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestMalformedTargetSkipped(t *testing.T) {
	c := newTestCapturer(map[models.EventType]Policy{}, 1)
	src, col := subscribe(t, c, models.EventMouseClick, models.EventFormInput)

	src.Emit(RawEvent{Kind: models.EventMouseClick, Time: epoch})
	src.Emit(RawEvent{Kind: models.EventFormInput, Time: epoch, Target: &Element{}})

	if len(col.records) != 0 {
		t.Fatalf("got %d records, want 0", len(col.records))
	}
	if st := c.Stats(); st.Invalid != 2 {
		t.Errorf("Invalid = %d, want 2", st.Invalid)
	}

	_, err := NewNormalizer(100, 3, false, 0, false).Normalize(&RawEvent{Kind: models.EventMouseClick})
	var ce *models.CaptureError
	if !errors.As(err, &ce) || ce.Kind != models.EventMouseClick {
		t.Errorf("err = %v, want CaptureError for mouse_click", err)
	}
}

// failingSource fails Listen for one kind.
type failingSource struct {
	*ChannelSource
	failOn models.EventType
}

func (f *failingSource) Listen(kind models.EventType, h Handler) (func(), error) {
	if kind == f.failOn {
		return nil, errors.New("listen refused")
	}
	return f.ChannelSource.Listen(kind, h)
}

func TestSubscribeReleasesOnPartialFailure(t *testing.T) {
	src := &failingSource{ChannelSource: NewChannelSource(), failOn: models.EventScroll}
	c := newTestCapturer(nil, 1)

	_, err := c.Subscribe(src, []models.EventType{models.EventMouseMove, models.EventMouseClick, models.EventScroll}, func(Record) {})
	if err == nil {
		t.Fatal("expected error")
	}
	if n := src.Listeners(); n != 0 {
		t.Errorf("%d listeners left registered", n)
	}
}

func TestDisposerIdempotent(t *testing.T) {
	src := NewChannelSource()
	c := newTestCapturer(nil, 1)
	col := &collector{}

	dispose, err := c.Subscribe(src, DefaultKinds, col.emit)
	if err != nil {
		t.Fatal(err)
	}
	if n := src.Listeners(); n != len(DefaultKinds) {
		t.Fatalf("Listeners = %d, want %d", n, len(DefaultKinds))
	}

	dispose()
	dispose()
	if n := src.Listeners(); n != 0 {
		t.Errorf("Listeners after dispose = %d", n)
	}
	src.Emit(RawEvent{Kind: models.EventPageUnload, Time: epoch})
	if len(col.records) != 0 {
		t.Errorf("record delivered after dispose")
	}
}

func TestSubscribeClosedSource(t *testing.T) {
	src := NewChannelSource()
	src.Close()
	_, err := newTestCapturer(nil, 1).Subscribe(src, DefaultKinds, func(Record) {})
	if !errors.Is(err, ErrSourceClosed) {
		t.Errorf("err = %v, want ErrSourceClosed", err)
	}
}

func TestVisibilityRecord(t *testing.T) {
	c := newTestCapturer(nil, 1)
	src, col := subscribe(t, c, models.EventVisibilityChange)

	src.Emit(RawEvent{Kind: models.EventVisibilityChange, Time: epoch, Hidden: true})
	src.Emit(RawEvent{Kind: models.EventVisibilityChange, Time: epoch.Add(time.Second)})
	if len(col.records) != 2 {
		t.Fatalf("records = %+v", col.records)
	}

	tests := []struct {
		hidden bool
		state  string
	}{
		{true, "hidden"},
		// Returning to the page is the same record type, not a separate focus event.
		{false, "visible"},
	}
	for i, tt := range tests {
		rec := col.records[i]
		if rec.Type != models.EventVisibilityChange || rec.Hidden != tt.hidden {
			t.Errorf("record %d = %+v", i, rec)
		}
		if rec.Data["visibility_state"] != tt.state || rec.Data["hidden"] != tt.hidden {
			t.Errorf("record %d data = %v", i, rec.Data)
		}
	}
}

func TestMissingTimeUsesClock(t *testing.T) {
	clk := clock.NewFake(epoch)
	c := New(Options{Policies: map[models.EventType]Policy{}, Clock: clk, Rand: NewRand(1)})
	src, col := subscribe(t, c, models.EventPageUnload)

	clk.Advance(time.Minute)
	src.Emit(RawEvent{Kind: models.EventPageUnload})
	if len(col.records) != 1 || !col.records[0].Time.Equal(epoch.Add(time.Minute)) {
		t.Fatalf("records = %+v", col.records)
	}
}
