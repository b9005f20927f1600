// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock. Timers fire synchronously, in deadline
// order, from the goroutine calling Advance.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	nextID  uint64
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	id       uint64
	deadline time.Time
	period   time.Duration // zero for one-shot timers
	fn       func()
	ch       chan time.Time
	stopped  bool
}

// NewFake returns a Fake positioned at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the current virtual time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc schedules fn to run when the virtual clock reaches now+d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.add(d, 0)
	w.fn = fn
	return &fakeTimer{clock: f, w: w}
}

// NewTicker returns a ticker driven by Advance.
func (f *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker period")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.add(d, d)
	w.ch = make(chan time.Time, 1)
	return &fakeTicker{clock: f, w: w}
}

// Pending returns the number of scheduled timers and tickers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

// Advance moves virtual time forward by d, firing every timer whose deadline
// falls inside the window. Timers scheduled by fired callbacks are honored if
// they also fall inside the window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		w := f.nextDue(target)
		if w == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		if w.deadline.After(f.now) {
			f.now = w.deadline
		}
		now := f.now
		if w.period > 0 {
			w.deadline = w.deadline.Add(w.period)
		} else {
			f.remove(w.id)
		}
		fn, ch := w.fn, w.ch
		f.mu.Unlock()

		if fn != nil {
			fn()
		}
		if ch != nil {
			select {
			case ch <- now:
			default:
			}
		}
	}
}

func (f *Fake) add(d, period time.Duration) *fakeWaiter {
	f.nextID++
	w := &fakeWaiter{id: f.nextID, deadline: f.now.Add(d), period: period}
	f.waiters = append(f.waiters, w)
	return w
}

func (f *Fake) nextDue(target time.Time) *fakeWaiter {
	if len(f.waiters) == 0 {
		return nil
	}
	sort.SliceStable(f.waiters, func(i, j int) bool {
		if f.waiters[i].deadline.Equal(f.waiters[j].deadline) {
			return f.waiters[i].id < f.waiters[j].id
		}
		return f.waiters[i].deadline.Before(f.waiters[j].deadline)
	})
	if w := f.waiters[0]; !w.deadline.After(target) {
		return w
	}
	return nil
}

func (f *Fake) remove(id uint64) bool {
	for i, w := range f.waiters {
		if w.id == id {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return true
		}
	}
	return false
}

type fakeTimer struct {
	clock *Fake
	w     *fakeWaiter
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.clock.remove(t.w.id)
}

type fakeTicker struct {
	clock *Fake
	w     *fakeWaiter
}

func (t *fakeTicker) C() <-chan time.Time { return t.w.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.clock.remove(t.w.id)
}
