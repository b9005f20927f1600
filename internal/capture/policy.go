// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package capture

import (
	"math"
	randv2 "math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/pulsetrack/internal/config"
	"github.com/tomtom215/pulsetrack/internal/models"
)

// Drop reasons reported to metrics.
const (
	DropSampled   = "sampled"
	DropThrottled = "throttled"
	DropDeadZone  = "dead_zone"
	DropInvalid   = "invalid"
)

// Policy is the volume-reduction policy for one event kind.
type Policy struct {
	// SampleRate is the probability in (0,1] that an event is kept.
	SampleRate float64
	// Throttle is the minimum spacing between accepted events. Zero disables it.
	Throttle time.Duration
}

// DefaultPolicies returns the built-in per-kind policies.
func DefaultPolicies() map[models.EventType]Policy {
	return map[models.EventType]Policy{
		models.EventMouseMove: {SampleRate: 0.1, Throttle: 100 * time.Millisecond},
		models.EventScroll:    {SampleRate: 1, Throttle: 200 * time.Millisecond},
	}
}

// PoliciesFromConfig builds per-kind policies from the capture section.
func PoliciesFromConfig(c *config.CaptureConfig) map[models.EventType]Policy {
	conv := func(p config.PolicyConfig) Policy {
		return Policy{SampleRate: p.SampleRate, Throttle: p.Throttle}
	}
	return map[models.EventType]Policy{
		models.EventMouseMove:      conv(c.MouseMove),
		models.EventMouseClick:     conv(c.MouseClick),
		models.EventScroll:         conv(c.Scroll),
		models.EventViewportResize: conv(c.ViewportResize),
		models.EventFormInput:      conv(c.FormInput),
		models.EventFormChange:     conv(c.FormChange),
	}
}

// Rand is a uniform source on [0,1).
type Rand interface {
	Float64() float64
}

// NewRand returns a seeded PCG source. It is not safe for concurrent use.
func NewRand(seed uint64) Rand {
	return randv2.New(randv2.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Throttler enforces a minimum spacing between accepted records. Only events
// that become records consume a token, so drops never extend the window.
type Throttler struct {
	lim *rate.Limiter
}

// NewThrottler returns a Throttler admitting one event per interval, or nil
// when interval is not positive.
func NewThrottler(interval time.Duration) *Throttler {
	if interval <= 0 {
		return nil
	}
	return &Throttler{lim: rate.NewLimiter(rate.Every(interval), 1)}
}

// Ready reports whether an event at t would pass without consuming the token.
func (t *Throttler) Ready(at time.Time) bool {
	if t == nil {
		return true
	}
	return t.lim.TokensAt(at) >= 1
}

// Allow reports whether an event at t may pass and consumes the token if so.
func (t *Throttler) Allow(at time.Time) bool {
	if t == nil {
		return true
	}
	return t.lim.AllowN(at, 1)
}

// Sampler keeps events with a fixed probability.
type Sampler struct {
	rate float64
	rnd  Rand
}

// NewSampler returns a Sampler with probability p drawing from rnd.
func NewSampler(p float64, rnd Rand) *Sampler {
	return &Sampler{rate: p, rnd: rnd}
}

// Keep draws once and reports whether the event is kept. A rate of 1 or more
// keeps everything without drawing.
func (s *Sampler) Keep() bool {
	if s == nil || s.rate >= 1 {
		return true
	}
	if s.rate <= 0 {
		return false
	}
	return s.rnd.Float64() < s.rate
}

// deadZone drops pointer movement smaller than min pixels on both axes.
type deadZone struct {
	min   float64
	have  bool
	lastX float64
	lastY float64
}

func (d *deadZone) Allow(x, y float64) bool {
	if d.min <= 0 {
		return true
	}
	if d.have && math.Abs(x-d.lastX) < d.min && math.Abs(y-d.lastY) < d.min {
		return false
	}
	return true
}

func (d *deadZone) Accept(x, y float64) {
	d.have = true
	d.lastX, d.lastY = x, y
}
