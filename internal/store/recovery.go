// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/pulsetrack/internal/logging"
	"github.com/tomtom215/pulsetrack/internal/metrics"
	"github.com/tomtom215/pulsetrack/internal/models"
)

// Publisher delivers one persisted payload. A nil error means the collector
// acknowledged it.
type Publisher interface {
	Publish(ctx context.Context, rec models.PersistedRecord) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, rec models.PersistedRecord) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, rec models.PersistedRecord) error {
	return f(ctx, rec)
}

// RecoveryResult summarizes one synchronous recovery pass.
type RecoveryResult struct {
	TotalPending int
	Recovered    int
	Failed       int
	Skipped      int // already in flight
	Errors       []error
	Duration     time.Duration
}

// RecoverPending re-submits every idle entry through p, in order, removing
// those that are acknowledged. Running it twice is safe: acknowledged entries
// are gone and in-flight entries are skipped.
//
// The tracker runs its sweeps asynchronously on its event loop via Sweep; this
// synchronous form serves the replay command and tests.
func (l *Log) RecoverPending(ctx context.Context, p Publisher) (*RecoveryResult, error) {
	if p == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}

	start := time.Now()
	result := &RecoveryResult{TotalPending: l.Len()}
	claimed := l.Sweep()
	result.Skipped = result.TotalPending - len(claimed)

	for i, rec := range claimed {
		if err := ctx.Err(); err != nil {
			for _, rest := range claimed[i:] {
				l.Release(rest.Seq)
			}
			result.Errors = append(result.Errors, err)
			result.Duration = time.Since(start)
			return result, err
		}

		metrics.RecoveryResends.Inc()
		if err := p.Publish(ctx, rec); err != nil {
			l.Release(rec.Seq)
			result.Failed++
			result.Errors = append(result.Errors, fmt.Errorf("publish seq %d: %w", rec.Seq, err))
			continue
		}
		if err := l.Remove(ctx, rec.Seq); err != nil {
			result.Errors = append(result.Errors, err)
		}
		result.Recovered++
	}

	result.Duration = time.Since(start)
	if result.TotalPending > 0 {
		logging.Info().
			Int("pending", result.TotalPending).
			Int("recovered", result.Recovered).
			Int("failed", result.Failed).
			Int("skipped", result.Skipped).
			Dur("duration", result.Duration).
			Msg("durable log recovery completed")
	}
	return result, nil
}
