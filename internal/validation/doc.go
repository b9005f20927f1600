// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

// Package validation wraps go-playground/validator v10 behind a thread-safe
// singleton. It is shared by configuration loading and the development
// receiver's request decoding.
//
// Field names in error messages follow the json or koanf tag of the field, so
// a failure reads "tracker.batch_size must be at least 1" rather than naming
// Go identifiers.
//
//	type createSession struct {
//	    SessionID string `json:"session_id" validate:"required,max=128"`
//	}
//
//	if err := validation.ValidateStruct(&req); err != nil {
//	    http.Error(w, err.Error(), http.StatusBadRequest)
//	}
package validation
