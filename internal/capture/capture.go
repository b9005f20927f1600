// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/pulsetrack/internal/clock"
	"github.com/tomtom215/pulsetrack/internal/config"
	"github.com/tomtom215/pulsetrack/internal/logging"
	"github.com/tomtom215/pulsetrack/internal/metrics"
	"github.com/tomtom215/pulsetrack/internal/models"
)

// DefaultKinds is every interaction kind a Capturer listens for by default.
var DefaultKinds = []models.EventType{
	models.EventMouseMove,
	models.EventMouseClick,
	models.EventScroll,
	models.EventViewportResize,
	models.EventFormInput,
	models.EventFormChange,
	models.EventFormSubmit,
	models.EventVisibilityChange,
	models.EventPageUnload,
}

// Record is an accepted, normalized interaction. The session id and page URL
// are stamped by the tracker.
type Record struct {
	Type   models.EventType
	Time   time.Time
	Data   map[string]any
	Hidden bool // visibility_change only
}

// Disposer releases the listeners acquired by Subscribe. It is safe to call
// more than once.
type Disposer func()

// Options configures a Capturer.
type Options struct {
	Policies        map[models.EventType]Policy
	MinMoveDistance float64
	Normalizer      *Normalizer
	Clock           clock.Clock
	Rand            Rand
}

// Stats counts capture decisions since construction.
type Stats struct {
	Accepted  uint64
	Sampled   uint64
	Throttled uint64
	DeadZone  uint64
	Invalid   uint64
}

// Capturer filters and normalizes raw events from a Source.
type Capturer struct {
	clock clock.Clock
	norm  *Normalizer

	mu         sync.Mutex
	throttlers map[models.EventType]*Throttler
	samplers   map[models.EventType]*Sampler
	dead       deadZone

	accepted  atomic.Uint64
	sampled   atomic.Uint64
	throttled atomic.Uint64
	deadZone  atomic.Uint64
	invalid   atomic.Uint64
}

// New returns a Capturer. Kinds without a policy are kept unthrottled.
func New(opts Options) *Capturer {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Rand == nil {
		opts.Rand = NewRand(uint64(time.Now().UnixNano()))
	}
	if opts.Normalizer == nil {
		opts.Normalizer = NewNormalizer(100, 3, false, 0, true)
	}
	if opts.Policies == nil {
		opts.Policies = DefaultPolicies()
	}

	c := &Capturer{
		clock:      opts.Clock,
		norm:       opts.Normalizer,
		throttlers: make(map[models.EventType]*Throttler),
		samplers:   make(map[models.EventType]*Sampler),
		dead:       deadZone{min: opts.MinMoveDistance},
	}
	for kind, p := range opts.Policies {
		if t := NewThrottler(p.Throttle); t != nil {
			c.throttlers[kind] = t
		}
		if p.SampleRate < 1 {
			c.samplers[kind] = NewSampler(p.SampleRate, opts.Rand)
		}
	}
	return c
}

// NewFromConfig builds a Capturer from the capture configuration section.
func NewFromConfig(cfg *config.CaptureConfig, clk clock.Clock, rnd Rand) *Capturer {
	return New(Options{
		Policies:        PoliciesFromConfig(cfg),
		MinMoveDistance: float64(cfg.MinMoveDistance),
		Normalizer: NewNormalizer(cfg.MaxTextLength, cfg.MaxPathDepth,
			cfg.CaptureInputValues, cfg.MaxValueLength, cfg.Redact),
		Clock: clk,
		Rand:  rnd,
	})
}

// Subscribe registers a listener on src for each kind. Accepted records are
// passed to emit from the source's goroutine; emit must not block. If any
// registration fails, the listeners already registered are released before
// the error is returned.
func (c *Capturer) Subscribe(src Source, kinds []models.EventType, emit func(Record)) (Disposer, error) {
	if emit == nil {
		return nil, errors.New("capture: nil emit func")
	}
	cancels := make([]func(), 0, len(kinds))
	release := func() {
		for i := len(cancels) - 1; i >= 0; i-- {
			cancels[i]()
		}
	}

	for _, kind := range kinds {
		cancel, err := src.Listen(kind, func(ev RawEvent) { c.handle(ev, emit) })
		if err != nil {
			release()
			return nil, fmt.Errorf("subscribe %s: %w", kind, err)
		}
		cancels = append(cancels, cancel)
	}

	logging.Debug().Int("kinds", len(kinds)).Msg("Capture subscribed")
	return Disposer(sync.OnceFunc(release)), nil
}

func (c *Capturer) handle(ev RawEvent, emit func(Record)) {
	at := ev.Time
	if at.IsZero() {
		at = c.clock.Now()
		ev.Time = at
	}

	if reason := c.filter(&ev, at); reason != "" {
		metrics.RecordCapture(string(ev.Kind), reason)
		return
	}

	data, err := c.norm.Normalize(&ev)
	if err != nil {
		c.invalid.Add(1)
		metrics.RecordCapture(string(ev.Kind), DropInvalid)
		logging.Debug().Err(err).Str("event_type", string(ev.Kind)).Msg("Capture skipped malformed event")
		return
	}
	if !c.commit(&ev, at) {
		metrics.RecordCapture(string(ev.Kind), DropThrottled)
		return
	}

	c.accepted.Add(1)
	metrics.RecordCapture(string(ev.Kind), "")
	emit(Record{Type: ev.Kind, Time: at, Data: data, Hidden: ev.Hidden})
}

// filter applies the dead-zone, throttle and sampler in that order and
// returns the drop reason, or "" when the event passes. It only peeks at the
// throttle; commit takes the token once the record exists.
func (c *Capturer) filter(ev *RawEvent, at time.Time) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	move := ev.Kind == models.EventMouseMove
	if move && !c.dead.Allow(ev.X, ev.Y) {
		c.deadZone.Add(1)
		return DropDeadZone
	}
	if !c.throttlers[ev.Kind].Ready(at) {
		c.throttled.Add(1)
		return DropThrottled
	}
	if !c.samplers[ev.Kind].Keep() {
		c.sampled.Add(1)
		return DropSampled
	}
	return ""
}

// commit consumes the throttle token and moves the dead-zone anchor for an
// event that produced a record. It fails when a concurrent event of the same
// kind took the token first.
func (c *Capturer) commit(ev *RawEvent, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.throttlers[ev.Kind].Allow(at) {
		c.throttled.Add(1)
		return false
	}
	if ev.Kind == models.EventMouseMove {
		c.dead.Accept(ev.X, ev.Y)
	}
	return true
}

// Stats returns a snapshot of the capture counters.
func (c *Capturer) Stats() Stats {
	return Stats{
		Accepted:  c.accepted.Load(),
		Sampled:   c.sampled.Load(),
		Throttled: c.throttled.Load(),
		DeadZone:  c.deadZone.Load(),
		Invalid:   c.invalid.Load(),
	}
}
