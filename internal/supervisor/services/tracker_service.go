// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/pulsetrack/internal/logging"
)

// Tracker is the lifecycle of *tracker.Tracker.
type Tracker interface {
	Start(ctx context.Context) error
	Stop() error
	Wait(ctx context.Context) error
}

// TrackerFactory builds a new, unstarted tracker.
type TrackerFactory func() (Tracker, error)

// TrackerService runs one tracker per Serve call.
type TrackerService struct {
	name  string
	build TrackerFactory
	drain time.Duration
	done  <-chan struct{}
}

// NewTrackerService returns a service building trackers with build. drain
// bounds the wait for in-flight work after Stop.
func NewTrackerService(name string, build TrackerFactory, drain time.Duration) *TrackerService {
	if drain <= 0 {
		drain = 5 * time.Second
	}
	return &TrackerService{name: name, build: build, drain: drain}
}

// StopWhen makes Serve return suture.ErrDoNotRestart once done is closed, as
// when a recording has been fully replayed.
func (s *TrackerService) StopWhen(done <-chan struct{}) *TrackerService {
	s.done = done
	return s
}

// Serve implements suture.Service.
func (s *TrackerService) Serve(ctx context.Context) error {
	tr, err := s.build()
	if err != nil {
		return fmt.Errorf("%s: build tracker: %w", s.name, err)
	}
	if err := tr.Start(ctx); err != nil {
		return fmt.Errorf("%s: start tracker: %w", s.name, err)
	}

	var finished bool
	select {
	case <-ctx.Done():
	case <-s.done:
		finished = true
	}

	if err := tr.Stop(); err != nil {
		logging.Warn().Err(err).Str("service", s.name).Msg("Tracker stop failed")
	}
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.drain)
	defer cancel()
	if err := tr.Wait(drainCtx); err != nil {
		logging.Warn().Err(err).Str("service", s.name).Msg("Tracker sends still in flight at shutdown")
	}

	if finished {
		return suture.ErrDoNotRestart
	}
	return ctx.Err()
}

// String names the service in supervisor logs.
func (s *TrackerService) String() string { return s.name }
