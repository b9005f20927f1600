// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package delivery

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/pulsetrack/internal/models"
)

// SessionClient sends session create and end notifications.
type SessionClient struct {
	endpoint string
	client   *http.Client
}

// NewSessionClient returns a client for the sessions endpoint.
func NewSessionClient(endpoint string, client *http.Client) *SessionClient {
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &SessionClient{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

// Create posts the creation notification.
func (c *SessionClient) Create(ctx context.Context, req models.SessionCreateRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return do(ctx, c.client, "session_create", http.MethodPost, c.endpoint, body)
}

// End patches the session with its end time and duration.
func (c *SessionClient) End(ctx context.Context, id string, req models.SessionEndRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode session end: %w", err)
	}
	return do(ctx, c.client, "session_end", http.MethodPatch, c.endpoint+"/"+url.PathEscape(id), body)
}
