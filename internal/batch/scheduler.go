// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package batch

import (
	"sync"
	"time"

	"github.com/tomtom215/pulsetrack/internal/clock"
	"github.com/tomtom215/pulsetrack/internal/models"
)

// Defaults for the flush triggers.
const (
	DefaultSize     = 10
	DefaultInterval = time.Second
)

// Scheduler decides when the buffer is flushed.
type Scheduler struct {
	size     int
	interval time.Duration
	clock    clock.Clock

	mu      sync.Mutex
	timer   clock.Timer
	running bool
}

// NewScheduler returns a Scheduler flushing at size events or every interval.
func NewScheduler(size int, interval time.Duration, clk clock.Clock) *Scheduler {
	if size <= 0 {
		size = DefaultSize
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Scheduler{size: size, interval: interval, clock: clk}
}

// Start arms the periodic timer. tick runs on the clock's goroutine once per
// interval until Stop; it should only hand off work.
func (s *Scheduler) Start(tick func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.arm(tick)
}

func (s *Scheduler) arm(tick func()) {
	s.timer = s.clock.AfterFunc(s.interval, func() {
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		s.arm(tick)
		s.mu.Unlock()
		tick()
	})
}

// Stop disarms the periodic timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Size returns the size threshold.
func (s *Scheduler) Size() int { return s.size }

// Interval returns the timer period.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// AfterAppend is consulted after every append with the buffer length.
func (s *Scheduler) AfterAppend(n int) (models.FlushReason, bool) {
	return models.FlushSize, n >= s.size
}

// OnTick is consulted when the periodic timer fires.
func (s *Scheduler) OnTick(n int) (models.FlushReason, bool) {
	return models.FlushInterval, n > 0
}

// OnVisibility is consulted when the page visibility changes.
func (s *Scheduler) OnVisibility(hidden bool, n int) (models.FlushReason, bool) {
	return models.FlushHidden, hidden && n > 0
}

// OnTeardown is consulted when the page is torn down.
func (s *Scheduler) OnTeardown(n int) (models.FlushReason, bool) {
	return models.FlushTeardown, n > 0
}
