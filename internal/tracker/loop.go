// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package tracker

import (
	"github.com/tomtom215/pulsetrack/internal/capture"
	"github.com/tomtom215/pulsetrack/internal/metrics"
)

func (t *Tracker) loop() {
	defer close(t.loopDone)
	for {
		select {
		case <-t.quit:
			return
		case fn := <-t.inbox:
			fn()
		}
	}
}

func (t *Tracker) shutdownLoop() {
	t.quitOnce.Do(func() {
		t.cancel()
		close(t.quit)
	})
	<-t.loopDone
}

// post enqueues fn without blocking and reports whether it was accepted.
func (t *Tracker) post(fn func()) bool {
	select {
	case <-t.loopDone:
		return false
	default:
	}
	select {
	case t.inbox <- fn:
		return true
	default:
		t.inboxDropped.Add(1)
		return false
	}
}

// postWait enqueues fn, waiting for room. It gives up once the loop exits.
func (t *Tracker) postWait(fn func()) bool {
	select {
	case t.inbox <- fn:
		return true
	case <-t.loopDone:
		return false
	}
}

// do runs fn on the loop and waits for its result.
func (t *Tracker) do(fn func() error) error {
	result := make(chan error, 1)
	if !t.postWait(func() { result <- fn() }) {
		return ErrNotRunning
	}
	select {
	case err := <-result:
		return err
	case <-t.loopDone:
		// The loop may have run fn just before exiting.
		select {
		case err := <-result:
			return err
		default:
			return ErrNotRunning
		}
	}
}

// onCapture is the capture emit callback. It runs on the source goroutine.
func (t *Tracker) onCapture(rec capture.Record) {
	if !t.post(func() { t.onRecord(rec) }) {
		metrics.RecordCapture(string(rec.Type), "inbox_full")
	}
}
