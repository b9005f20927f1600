// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package config

import "time"

// Config is the complete Pulsetrack configuration.
type Config struct {
	Tracker    TrackerConfig    `koanf:"tracker"`
	Page       PageConfig       `koanf:"page"`
	Capture    CaptureConfig    `koanf:"capture"`
	Delivery   DeliveryConfig   `koanf:"delivery"`
	Stream     StreamConfig     `koanf:"stream"`
	Storage    StorageConfig    `koanf:"storage"`
	Receiver   ReceiverConfig   `koanf:"receiver"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// TrackerConfig controls batching, session lifetime and recovery.
type TrackerConfig struct {
	EventsEndpoint   string        `koanf:"events_endpoint" validate:"required,url"`
	SessionsEndpoint string        `koanf:"sessions_endpoint" validate:"required,url"`
	PayloadFormat    string        `koanf:"payload_format" validate:"oneof=batch array"`
	BatchSize        int           `koanf:"batch_size" validate:"gte=1,lte=500"`
	BatchInterval    time.Duration `koanf:"batch_interval" validate:"gte=10ms"`
	IdleTimeout      time.Duration `koanf:"idle_timeout" validate:"gte=1s"`
	RecoveryInterval time.Duration `koanf:"recovery_interval" validate:"gte=100ms"`
	StreamTypes      []string      `koanf:"stream_types"`
	// InboxSize bounds the event loop queue. Raw events beyond it are dropped
	// so the host is never blocked.
	InboxSize int `koanf:"inbox_size" validate:"gte=16"`
}

// PageConfig describes the host page the tracker is embedded in.
type PageConfig struct {
	URL            string `koanf:"url"`
	Title          string `koanf:"title"`
	UserAgent      string `koanf:"user_agent"`
	Referrer       string `koanf:"referrer"`
	Language       string `koanf:"language"`
	Timezone       string `koanf:"timezone"`
	ScreenWidth    int    `koanf:"screen_width" validate:"gte=0"`
	ScreenHeight   int    `koanf:"screen_height" validate:"gte=0"`
	ViewportWidth  int    `koanf:"viewport_width" validate:"gte=0"`
	ViewportHeight int    `koanf:"viewport_height" validate:"gte=0"`
}

// PolicyConfig is the sampling and throttling policy for one event kind.
type PolicyConfig struct {
	SampleRate float64       `koanf:"sample_rate" validate:"gt=0,lte=1"`
	Throttle   time.Duration `koanf:"throttle" validate:"gte=0"`
}

// CaptureConfig controls which interactions are recorded and how.
type CaptureConfig struct {
	MouseMove      PolicyConfig `koanf:"mouse_move"`
	MouseClick     PolicyConfig `koanf:"mouse_click"`
	Scroll         PolicyConfig `koanf:"scroll"`
	ViewportResize PolicyConfig `koanf:"viewport_resize"`
	FormInput      PolicyConfig `koanf:"form_input"`
	FormChange     PolicyConfig `koanf:"form_change"`

	MinMoveDistance    int      `koanf:"min_move_distance" validate:"gte=0"`
	MaxTextLength      int      `koanf:"max_text_length" validate:"gte=1"`
	MaxPathDepth       int      `koanf:"max_path_depth" validate:"gte=1,lte=16"`
	CaptureInputValues bool     `koanf:"capture_input_values"`
	MaxValueLength     int      `koanf:"max_value_length" validate:"gte=1"`
	Redact             bool     `koanf:"redact"`
	Disabled           []string `koanf:"disabled"`
	RecordingPath      string   `koanf:"recording_path"`
}

// BreakerConfig configures the circuit breaker around bulk sends.
type BreakerConfig struct {
	Enabled          bool          `koanf:"enabled"`
	MaxRequests      uint32        `koanf:"max_requests" validate:"gte=1"`
	Interval         time.Duration `koanf:"interval"`
	Timeout          time.Duration `koanf:"timeout" validate:"gte=1s"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"gte=1"`
}

// DeliveryConfig controls the bulk channel.
type DeliveryConfig struct {
	SendTimeout    time.Duration `koanf:"send_timeout" validate:"gte=100ms"`
	BeaconMaxBytes int           `koanf:"beacon_max_bytes" validate:"gte=0"`
	Breaker        BreakerConfig `koanf:"breaker"`
}

// StreamConfig controls the streaming channel.
type StreamConfig struct {
	Enabled          bool          `koanf:"enabled"`
	URL              string        `koanf:"url"`
	ReconnectDelay   time.Duration `koanf:"reconnect_delay" validate:"gte=100ms"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout" validate:"gte=100ms"`
	WriteTimeout     time.Duration `koanf:"write_timeout" validate:"gte=100ms"`
	PingPeriod       time.Duration `koanf:"ping_period" validate:"gte=1s"`
	SendQueue        int           `koanf:"send_queue" validate:"gte=1"`
}

// StorageConfig selects the durable key-value backend.
type StorageConfig struct {
	Driver        string `koanf:"driver" validate:"oneof=badger sqlite memory"`
	Path          string `koanf:"path"`
	Capacity      int    `koanf:"capacity" validate:"gte=1"`
	MaxValueBytes int    `koanf:"max_value_bytes" validate:"gte=0"`
	SyncWrites    bool   `koanf:"sync_writes"`
}

// ReceiverConfig configures the development receiver.
type ReceiverConfig struct {
	ListenAddr        string        `koanf:"listen_addr" validate:"required"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	MaxBodyBytes      int64         `koanf:"max_body_bytes" validate:"gte=1024"`
	DedupWindow       int           `koanf:"dedup_window" validate:"gte=0"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `koanf:"enabled"`
	ListenAddr string `koanf:"listen_addr"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig configures the suture tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold" validate:"gt=0"`
	FailureDecay     float64       `koanf:"failure_decay" validate:"gt=0"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout" validate:"gte=1s"`
}
