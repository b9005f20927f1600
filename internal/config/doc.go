// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

/*
Package config loads and validates Pulsetrack configuration.

Configuration is layered with Koanf v2, lowest priority first:

 1. Built-in defaults (defaultConfig)
 2. Optional YAML file (PULSETRACK_CONFIG, then DefaultConfigPaths)
 3. Environment variables (PULSETRACK_* mapped by envTransformFunc)

After unmarshaling, struct tags are checked with go-playground/validator and
cross-field rules are applied by Validate.

Example YAML:

	tracker:
	  events_endpoint: https://collector.example.com/api/events
	  sessions_endpoint: https://collector.example.com/api/sessions
	  batch_size: 10
	  batch_interval: 1s
	  idle_timeout: 30m
	capture:
	  mouse_move:
	    sample_rate: 0.1
	    throttle: 100ms
	stream:
	  enabled: true
	  url: wss://collector.example.com/ws
	  reconnect_delay: 3s
	storage:
	  driver: badger
	  path: /var/lib/pulsetrack
	  capacity: 10

Environment examples:

	PULSETRACK_EVENTS_ENDPOINT=https://collector.example.com/api/events
	PULSETRACK_BATCH_SIZE=25
	PULSETRACK_STORAGE_DRIVER=sqlite
	PULSETRACK_STREAM_RECONNECT_DELAY=5s
	LOG_LEVEL=debug
*/
package config
