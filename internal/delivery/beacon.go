// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tomtom215/pulsetrack/internal/logging"
	"github.com/tomtom215/pulsetrack/internal/metrics"
)

// ErrBeaconRefused is returned when a payload cannot be queued as a beacon.
var ErrBeaconRefused = errors.New("delivery: beacon refused")

// DefaultBeaconMaxBytes is the largest payload a beacon accepts.
const DefaultBeaconMaxBytes = 64 << 10

// Beacon queues a detached best-effort POST. Queue returns immediately; the
// outcome is never reported to the caller.
type Beacon struct {
	endpoint string
	client   *http.Client
	maxBytes int
	timeout  time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewBeacon returns a Beacon for endpoint.
func NewBeacon(endpoint string, maxBytes int, timeout time.Duration, client *http.Client) *Beacon {
	if maxBytes <= 0 {
		maxBytes = DefaultBeaconMaxBytes
	}
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &Beacon{endpoint: endpoint, client: client, maxBytes: maxBytes, timeout: timeout}
}

// Queue hands payload to a background request. It fails with
// ErrBeaconRefused when the payload is too large or the beacon is closed.
func (b *Beacon) Queue(payload []byte) error {
	if len(payload) > b.maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrBeaconRefused, len(payload), b.maxBytes)
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("%w: closed", ErrBeaconRefused)
	}
	b.wg.Add(1)
	b.mu.Unlock()

	body := append([]byte(nil), payload...)
	go func() {
		defer b.wg.Done()
		ctx := context.Background()
		if b.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.timeout)
			defer cancel()
		}
		start := time.Now()
		err := do(ctx, b.client, "beacon", http.MethodPost, b.endpoint, body)
		metrics.RecordSend("beacon", sendResult(err), time.Since(start))
		if err != nil {
			logging.Debug().Err(err).Int("bytes", len(body)).Msg("Beacon delivery failed")
		}
	}()
	return nil
}

// Close refuses further beacons and waits for queued ones until ctx ends.
func (b *Beacon) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
