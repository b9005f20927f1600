// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Capture Metrics
	CaptureAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_capture_accepted_total",
			Help: "Interaction records accepted by the capture stage",
		},
		[]string{"event_type"},
	)

	CaptureDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_capture_dropped_total",
			Help: "Raw interactions discarded before buffering",
		},
		[]string{"event_type", "reason"}, // "sampled", "throttled", "dead_zone", "invalid", "inbox_full", "inactive"
	)

	// Batching Metrics
	BufferDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsetrack_buffer_events",
			Help: "Records currently held in the live buffer",
		},
	)

	BatchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_batch_flushes_total",
			Help: "Buffer flushes by trigger",
		},
		[]string{"reason"}, // "size", "interval", "hidden", "teardown", "rotate", "manual"
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pulsetrack_batch_events",
			Help:    "Number of records per flushed batch",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 250},
		},
	)

	// Delivery Metrics
	BatchSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_batch_sends_total",
			Help: "Bulk channel send attempts by mode and result",
		},
		[]string{"mode", "result"}, // mode: "normal", "recovery", "beacon", "sync"; result: "ack", "error", "refused"
	)

	BatchSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulsetrack_batch_send_duration_seconds",
			Help:    "Duration of bulk channel requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	SessionNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_session_notifications_total",
			Help: "Session create/end notifications by result",
		},
		[]string{"kind", "result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulsetrack_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Durable Log Metrics
	LogDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsetrack_log_entries",
			Help: "Unacknowledged batches held in the durable log",
		},
	)

	LogEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsetrack_log_evictions_total",
			Help: "Batches evicted from a full durable log",
		},
	)

	LogErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_log_errors_total",
			Help: "Durable log operation failures",
		},
		[]string{"op"}, // "write", "remove", "load"
	)

	RecoveryResends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsetrack_recovery_resends_total",
			Help: "Persisted batches re-submitted by the recovery sweep",
		},
	)

	// Streaming Metrics
	StreamConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsetrack_stream_connected",
			Help: "1 while the streaming channel is open",
		},
	)

	StreamReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsetrack_stream_reconnects_total",
			Help: "Streaming channel reconnect attempts",
		},
	)

	StreamFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_stream_frames_total",
			Help: "Streaming channel frames by result",
		},
		[]string{"result"}, // "sent", "dropped", "error"
	)

	// Session Metrics
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_sessions_started_total",
			Help: "Sessions started, by whether the id was reused",
		},
		[]string{"reused"},
	)

	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_sessions_ended_total",
			Help: "Sessions ended, by cause",
		},
		[]string{"cause"}, // "idle", "stop"
	)

	// Receiver Metrics
	ReceiverRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_receiver_requests_total",
			Help: "Development receiver requests by route and status",
		},
		[]string{"route", "status"},
	)

	ReceiverEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsetrack_receiver_events_total",
			Help: "Records accepted by the development receiver",
		},
	)

	ReceiverDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsetrack_receiver_duplicate_payloads_total",
			Help: "Bulk payloads the receiver had already accepted",
		},
	)

	ReceiverStreamFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsetrack_receiver_stream_frames_total",
			Help: "Frames read by the development receiver's stream endpoint",
		},
		[]string{"result"}, // "event", "invalid"
	)
)

// RecordCapture counts one accepted record, or one drop when reason is set.
func RecordCapture(eventType, reason string) {
	if reason == "" {
		CaptureAccepted.WithLabelValues(eventType).Inc()
		return
	}
	CaptureDropped.WithLabelValues(eventType, reason).Inc()
}

// RecordFlush counts one flush of n records.
func RecordFlush(reason string, n int) {
	BatchFlushes.WithLabelValues(reason).Inc()
	BatchSize.Observe(float64(n))
}

// RecordSend records one bulk channel attempt.
func RecordSend(mode, result string, duration time.Duration) {
	BatchSends.WithLabelValues(mode, result).Inc()
	BatchSendDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordSessionNotification records the outcome of a session notification.
func RecordSessionNotification(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	SessionNotifications.WithLabelValues(kind, result).Inc()
}

// SetStreamConnected updates the stream connection gauge.
func SetStreamConnected(connected bool) {
	if connected {
		StreamConnected.Set(1)
		return
	}
	StreamConnected.Set(0)
}
