// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package config

import (
	"fmt"
	"net/url"

	"github.com/tomtom215/pulsetrack/internal/logging"
	"github.com/tomtom215/pulsetrack/internal/models"
	"github.com/tomtom215/pulsetrack/internal/validation"
)

// Validate checks struct tags and the rules that span several fields.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	validators := []func() error{
		c.validateStreamTypes,
		c.validateStream,
		c.validateStorage,
		c.validateBatchWindow,
		c.validateLogging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateStreamTypes() error {
	for _, t := range c.Tracker.StreamTypes {
		if !models.EventType(t).Valid() {
			return fmt.Errorf("tracker.stream_types: unknown event type %q", t)
		}
	}
	for _, t := range c.Capture.Disabled {
		if !models.EventType(t).Valid() {
			return fmt.Errorf("capture.disabled: unknown event type %q", t)
		}
	}
	return nil
}

func (c *Config) validateStream() error {
	if !c.Stream.Enabled {
		return nil
	}
	u, err := url.Parse(c.Stream.URL)
	if err != nil {
		return fmt.Errorf("stream.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("stream.url: scheme must be ws or wss, got %q", u.Scheme)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.Driver != "memory" && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for driver %s", c.Storage.Driver)
	}
	return nil
}

// validateBatchWindow keeps idle detection meaningful: the idle check runs on
// the batch timer, so the timer must fire well inside the idle window.
func (c *Config) validateBatchWindow() error {
	if c.Tracker.BatchInterval >= c.Tracker.IdleTimeout {
		return fmt.Errorf("tracker.batch_interval (%s) must be shorter than tracker.idle_timeout (%s)",
			c.Tracker.BatchInterval, c.Tracker.IdleTimeout)
	}
	return nil
}

func (c *Config) validateLogging() error {
	if c.Logging.Level != "" && !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	return nil
}

// StreamTypeSet returns the configured stream types as a lookup set.
func (c *Config) StreamTypeSet() map[models.EventType]bool {
	set := make(map[models.EventType]bool, len(c.Tracker.StreamTypes))
	for _, t := range c.Tracker.StreamTypes {
		set[models.EventType(t)] = true
	}
	return set
}

// LoggerConfig converts the logging section for logging.Init.
func (c *Config) LoggerConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Logging.Level
	lc.Format = c.Logging.Format
	lc.Caller = c.Logging.Caller
	return lc
}
