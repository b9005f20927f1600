// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/pulsetrack/internal/clock"
	"github.com/tomtom215/pulsetrack/internal/config"
	"github.com/tomtom215/pulsetrack/internal/logging"
	"github.com/tomtom215/pulsetrack/internal/metrics"
	"github.com/tomtom215/pulsetrack/internal/models"
)

var (
	// ErrNotConnected is returned by Send while no connection is open.
	ErrNotConnected = errors.New("websocket: stream not connected")
	// ErrQueueFull is returned by Send when the write queue is saturated.
	ErrQueueFull = errors.New("websocket: stream queue full")
)

// StreamOptions configures a StreamClient.
type StreamOptions struct {
	URL              string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingPeriod       time.Duration
	SendQueue        int
	Clock            clock.Clock
}

// StreamOptionsFromConfig maps the stream configuration section.
func StreamOptionsFromConfig(c *config.StreamConfig, clk clock.Clock) StreamOptions {
	return StreamOptions{
		URL:              c.URL,
		ReconnectDelay:   c.ReconnectDelay,
		HandshakeTimeout: c.HandshakeTimeout,
		WriteTimeout:     c.WriteTimeout,
		PingPeriod:       c.PingPeriod,
		SendQueue:        c.SendQueue,
		Clock:            clk,
	}
}

// StreamClient is the always-on, auto-reconnecting streaming connection.
type StreamClient struct {
	opts   StreamOptions
	dialer *websocket.Dialer

	mu     sync.Mutex
	active *streamConn

	connects   atomic.Int64
	reconnects atomic.Int64
}

type streamConn struct {
	conn *websocket.Conn
	send chan []byte
}

// NewStreamClient returns a client; call Run to connect.
func NewStreamClient(opts StreamOptions) *StreamClient {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = writeWait
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = pingPeriod
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = 64
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &StreamClient{
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
	}
}

// Run dials, serves the connection until it drops, waits the reconnect
// delay and dials again, until ctx is cancelled.
func (s *StreamClient) Run(ctx context.Context) error {
	for {
		conn, _, err := s.dialer.DialContext(ctx, s.opts.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.Debug().Err(&models.StreamError{Op: "dial", Err: err}).Str("url", s.opts.URL).Msg("Stream dial failed")
		} else {
			s.connects.Add(1)
			logging.Info().Str("url", s.opts.URL).Msg("Stream connected")
			s.serve(ctx, conn)
			logging.Info().Str("url", s.opts.URL).Msg("Stream disconnected")
		}

		if !s.wait(ctx, s.opts.ReconnectDelay) {
			return nil
		}
		s.reconnects.Add(1)
		metrics.StreamReconnects.Inc()
	}
}

func (s *StreamClient) wait(ctx context.Context, d time.Duration) bool {
	fired := make(chan struct{})
	t := s.opts.Clock.AfterFunc(d, func() { close(fired) })
	select {
	case <-ctx.Done():
		t.Stop()
		return false
	case <-fired:
		return true
	}
}

// serve runs the pumps for conn and returns when it is closed.
func (s *StreamClient) serve(ctx context.Context, conn *websocket.Conn) {
	sc := &streamConn{conn: conn, send: make(chan []byte, s.opts.SendQueue)}
	done := make(chan struct{})

	s.mu.Lock()
	s.active = sc
	s.mu.Unlock()
	metrics.SetStreamConnected(true)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(ctx, sc, done)
	}()

	s.readPump(sc)
	close(done)
	<-writerDone

	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
	metrics.SetStreamConnected(false)
}

// readPump discards inbound frames and keeps the read deadline fresh.
func (s *StreamClient) readPump(sc *streamConn) {
	wait := s.opts.PingPeriod * 10 / 9
	sc.conn.SetReadLimit(maxMessageSize)
	_ = sc.conn.SetReadDeadline(time.Now().Add(wait))
	sc.conn.SetPongHandler(func(string) error {
		return sc.conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := sc.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug().Err(&models.StreamError{Op: "read", Err: err}).Msg("Stream closed unexpectedly")
			}
			return
		}
	}
}

func (s *StreamClient) writePump(ctx context.Context, sc *streamConn, done <-chan struct{}) {
	ticker := s.opts.Clock.NewTicker(s.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = sc.conn.Close()
	}()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			_ = sc.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if !s.drainQueued(sc) {
				return
			}
			_ = sc.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "tracker stopped"))
			return

		case frame := <-sc.send:
			if err := sc.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
				return
			}
			if err := sc.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				metrics.StreamFrames.WithLabelValues("error").Inc()
				logging.Debug().Err(&models.StreamError{Op: "write", Err: err}).Msg("Stream write failed")
				return
			}
			metrics.StreamFrames.WithLabelValues("sent").Inc()

		case <-ticker.C():
			if err := sc.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
				return
			}
			if err := sc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drainQueued writes the frames already queued when the stream is stopping,
// under the deadline set by the caller. It reports false on a write error.
func (s *StreamClient) drainQueued(sc *streamConn) bool {
	for {
		select {
		case frame := <-sc.send:
			if err := sc.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				metrics.StreamFrames.WithLabelValues("error").Inc()
				logging.Debug().Err(&models.StreamError{Op: "write", Err: err}).Msg("Stream drain failed")
				return false
			}
			metrics.StreamFrames.WithLabelValues("sent").Inc()
		default:
			return true
		}
	}
}

// Send queues ev as one frame. It never blocks.
func (s *StreamClient) Send(ev models.TrackingEvent) error {
	frame, err := json.Marshal(ev)
	if err != nil {
		return &models.StreamError{Op: "encode", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		metrics.StreamFrames.WithLabelValues("dropped").Inc()
		return ErrNotConnected
	}
	select {
	case s.active.send <- frame:
		return nil
	default:
		metrics.StreamFrames.WithLabelValues("dropped").Inc()
		return fmt.Errorf("%w (%d frames)", ErrQueueFull, cap(s.active.send))
	}
}

// Connected reports whether a connection is open.
func (s *StreamClient) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Connects returns the number of successful dials.
func (s *StreamClient) Connects() int64 { return s.connects.Load() }

// Reconnects returns the number of reconnect attempts.
func (s *StreamClient) Reconnects() int64 { return s.reconnects.Load() }
