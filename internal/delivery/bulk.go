// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package delivery

import (
	"context"
	"errors"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/pulsetrack/internal/config"
	"github.com/tomtom215/pulsetrack/internal/logging"
	"github.com/tomtom215/pulsetrack/internal/metrics"
	"github.com/tomtom215/pulsetrack/internal/models"
)

// ErrCircuitOpen is wrapped by the TransportError returned while the breaker
// rejects sends.
var ErrCircuitOpen = errors.New("delivery: circuit open")

const breakerName = "bulk-channel"

// BulkClient posts serialized batches to the events endpoint.
type BulkClient struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
	cb       *gobreaker.CircuitBreaker[struct{}]
}

// NewBulkClient returns a client for endpoint. A nil client gets a default
// one.
func NewBulkClient(endpoint string, cfg *config.DeliveryConfig, client *http.Client) *BulkClient {
	if client == nil {
		client = NewHTTPClient(0)
	}
	c := &BulkClient{
		endpoint: endpoint,
		client:   client,
		timeout:  cfg.SendTimeout,
	}
	if cfg.Breaker.Enabled {
		c.cb = newBreaker(&cfg.Breaker)
	}
	return c
}

func newBreaker(cfg *config.BreakerConfig) *gobreaker.CircuitBreaker[struct{}] {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	threshold := cfg.FailureThreshold
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trip := counts.ConsecutiveFailures >= threshold
			if trip {
				logging.Warn().Uint32("consecutive_failures", counts.ConsecutiveFailures).Msg("[CIRCUIT BREAKER] Opening bulk channel circuit")
			}
			return trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("from", from.String()).Str("to", to.String()).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
}

// Send posts payload and waits for the response, bounded by the send
// timeout. mode labels the attempt in metrics.
func (c *BulkClient) Send(ctx context.Context, mode string, payload []byte) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	err := c.execute(func() error {
		return do(ctx, c.client, "send", http.MethodPost, c.endpoint, payload)
	})
	metrics.RecordSend(mode, sendResult(err), time.Since(start))
	return err
}

func (c *BulkClient) execute(fn func() error) error {
	if c.cb == nil {
		return fn()
	}
	_, err := c.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &models.TransportError{Op: "send", Err: errors.Join(ErrCircuitOpen, err)}
	}
	return err
}

// BreakerState returns the breaker state, or "disabled".
func (c *BulkClient) BreakerState() string {
	if c.cb == nil {
		return "disabled"
	}
	return c.cb.State().String()
}

func sendResult(err error) string {
	switch {
	case err == nil:
		return "ack"
	case errors.Is(err, ErrCircuitOpen):
		return "refused"
	default:
		return "error"
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
