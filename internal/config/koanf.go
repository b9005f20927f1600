// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"pulsetrack.yaml",
	"pulsetrack.yml",
	"/etc/pulsetrack/config.yaml",
	"/etc/pulsetrack/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "PULSETRACK_CONFIG"

// defaultConfig returns a Config with every default applied. These are loaded
// first and then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Tracker: TrackerConfig{
			EventsEndpoint:   "http://127.0.0.1:8090/api/events",
			SessionsEndpoint: "http://127.0.0.1:8090/api/sessions",
			PayloadFormat:    "batch",
			BatchSize:        10,
			BatchInterval:    time.Second,
			IdleTimeout:      30 * time.Minute,
			RecoveryInterval: 5 * time.Second,
			StreamTypes:      []string{"mouse_click", "session_start", "session_end"},
			InboxSize:        1024,
		},
		Page: PageConfig{
			URL:            "about:blank",
			UserAgent:      "pulsetrack/1.0",
			Language:       "en-US",
			Timezone:       "UTC",
			ScreenWidth:    1920,
			ScreenHeight:   1080,
			ViewportWidth:  1280,
			ViewportHeight: 720,
		},
		Capture: CaptureConfig{
			MouseMove:      PolicyConfig{SampleRate: 0.1, Throttle: 100 * time.Millisecond},
			MouseClick:     PolicyConfig{SampleRate: 1.0},
			Scroll:         PolicyConfig{SampleRate: 1.0, Throttle: 200 * time.Millisecond},
			ViewportResize: PolicyConfig{SampleRate: 1.0, Throttle: 250 * time.Millisecond},
			FormInput:      PolicyConfig{SampleRate: 1.0},
			FormChange:     PolicyConfig{SampleRate: 1.0},

			MinMoveDistance:    0,
			MaxTextLength:      100,
			MaxPathDepth:       3,
			CaptureInputValues: false,
			MaxValueLength:     100,
			Redact:             true,
		},
		Delivery: DeliveryConfig{
			SendTimeout:    10 * time.Second,
			BeaconMaxBytes: 64 << 10,
			Breaker: BreakerConfig{
				Enabled:          true,
				MaxRequests:      1,
				Interval:         time.Minute,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
		},
		Stream: StreamConfig{
			Enabled:          true,
			URL:              "ws://127.0.0.1:8090/ws",
			ReconnectDelay:   3 * time.Second,
			HandshakeTimeout: 5 * time.Second,
			WriteTimeout:     5 * time.Second,
			PingPeriod:       30 * time.Second,
			SendQueue:        64,
		},
		Storage: StorageConfig{
			Driver:        "badger",
			Path:          "/data/pulsetrack",
			Capacity:      10,
			MaxValueBytes: 5 << 20,
			SyncWrites:    true,
		},
		Receiver: ReceiverConfig{
			ListenAddr:        ":8090",
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 600,
			RateLimitWindow:   time.Minute,
			MaxBodyBytes:      1 << 20,
			DedupWindow:       4096,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9464",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// Default returns the built-in configuration without reading any source.
func Default() *Config {
	return defaultConfig()
}

// Load loads configuration from defaults, the optional config file and the
// environment, then validates it.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path skips the
// file layer.
func LoadFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file found, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated strings when set from env.
var sliceConfigPaths = []string{
	"tracker.stream_types",
	"capture.disabled",
	"receiver.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
var envMappings = map[string]string{
	"pulsetrack_events_endpoint":        "tracker.events_endpoint",
	"pulsetrack_sessions_endpoint":      "tracker.sessions_endpoint",
	"pulsetrack_payload_format":         "tracker.payload_format",
	"pulsetrack_batch_size":             "tracker.batch_size",
	"pulsetrack_batch_interval":         "tracker.batch_interval",
	"pulsetrack_idle_timeout":           "tracker.idle_timeout",
	"pulsetrack_recovery_interval":      "tracker.recovery_interval",
	"pulsetrack_stream_types":           "tracker.stream_types",
	"pulsetrack_inbox_size":             "tracker.inbox_size",
	"pulsetrack_page_url":               "page.url",
	"pulsetrack_page_title":             "page.title",
	"pulsetrack_page_user_agent":        "page.user_agent",
	"pulsetrack_page_language":          "page.language",
	"pulsetrack_page_timezone":          "page.timezone",
	"pulsetrack_move_sample_rate":       "capture.mouse_move.sample_rate",
	"pulsetrack_move_throttle":          "capture.mouse_move.throttle",
	"pulsetrack_scroll_throttle":        "capture.scroll.throttle",
	"pulsetrack_min_move_distance":      "capture.min_move_distance",
	"pulsetrack_capture_values":         "capture.capture_input_values",
	"pulsetrack_capture_disabled":       "capture.disabled",
	"pulsetrack_recording":              "capture.recording_path",
	"pulsetrack_send_timeout":           "delivery.send_timeout",
	"pulsetrack_beacon_max_bytes":       "delivery.beacon_max_bytes",
	"pulsetrack_breaker_enabled":        "delivery.breaker.enabled",
	"pulsetrack_stream_enabled":         "stream.enabled",
	"pulsetrack_stream_url":             "stream.url",
	"pulsetrack_storage_driver":         "storage.driver",
	"pulsetrack_storage_path":           "storage.path",
	"pulsetrack_storage_capacity":       "storage.capacity",
	"pulsetrack_storage_max_bytes":      "storage.max_value_bytes",
	"pulsetrack_receiver_addr":          "receiver.listen_addr",
	"pulsetrack_receiver_cors":          "receiver.cors_origins",
	"pulsetrack_receiver_rate":          "receiver.rate_limit_requests",
	"pulsetrack_metrics_enabled":        "metrics.enabled",
	"pulsetrack_metrics_addr":           "metrics.listen_addr",
	"pulsetrack_shutdown_timeout":       "supervisor.shutdown_timeout",
	"pulsetrack_stream_reconnect_delay": "stream.reconnect_delay",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps environment variable names to koanf paths.
// Unmapped variables return "" and are skipped.
//
// Examples:
//   - PULSETRACK_BATCH_SIZE -> tracker.batch_size
//   - PULSETRACK_STORAGE_DRIVER -> storage.driver
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
