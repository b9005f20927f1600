// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package capture

import (
	"strings"
	"testing"

	"github.com/tomtom215/pulsetrack/internal/models"
)

func TestPasswordNeverRecorded(t *testing.T) {
	n := NewNormalizer(100, 3, true, 256, false)
	for _, kind := range []models.EventType{models.EventFormInput, models.EventFormChange} {
		data, err := n.Normalize(&RawEvent{
			Kind:   kind,
			Target: &Element{Tag: "input", ID: "pw", Name: "password", InputType: "Password", Value: "hunter2"},
		})
		if err != nil {
			t.Fatal(err)
		}
		for _, k := range []string{"value", "value_length"} {
			if _, ok := data[k]; ok {
				t.Errorf("%s: password record carries %q", kind, k)
			}
		}
		if data["has_value"] != true || data["input_type"] != "password" || data["name"] != "password" {
			t.Errorf("%s: data = %v", kind, data)
		}
	}
}

func TestInputValueCapture(t *testing.T) {
	el := &Element{Tag: "input", Name: "email", InputType: "email", Value: "contact me at jane@example.com please"}

	off, _ := NewNormalizer(100, 3, false, 256, true).Normalize(&RawEvent{Kind: models.EventFormChange, Target: el})
	if _, ok := off["value"]; ok {
		t.Errorf("value recorded with capture disabled: %v", off)
	}
	if off["value_length"] != 37 {
		t.Errorf("value_length = %v", off["value_length"])
	}

	on, _ := NewNormalizer(100, 3, true, 256, true).Normalize(&RawEvent{Kind: models.EventFormChange, Target: el})
	if got := on["value"]; got != "contact me at [REDACTED:email] please" {
		t.Errorf("value = %q", got)
	}

	short, _ := NewNormalizer(100, 3, true, 7, false).Normalize(&RawEvent{Kind: models.EventFormChange, Target: el})
	if got := short["value"]; got != "contact" {
		t.Errorf("truncated value = %q", got)
	}
}

func TestPathDepthCap(t *testing.T) {
	el := &Element{Tag: "SPAN", Parent: &Element{
		Tag: "a", Classes: []string{"nav-link", "active"}, Parent: &Element{
			Tag: "li", Parent: &Element{
				Tag: "ul", ID: "menu", Parent: &Element{Tag: "body"},
			},
		},
	}}

	tests := []struct {
		depth int
		want  string
	}{
		{1, "span"},
		{3, "li > a.nav-link > span"},
		{5, "body > ul#menu > li > a.nav-link > span"},
		{0, "li > a.nav-link > span"},
	}
	for _, tt := range tests {
		n := NewNormalizer(100, tt.depth, false, 0, false)
		if got := n.Describe(el).Path; got != tt.want {
			t.Errorf("depth %d: path = %q, want %q", tt.depth, got, tt.want)
		}
	}
}

func TestTextTruncation(t *testing.T) {
	n := NewNormalizer(100, 3, false, 0, false)
	d := n.Describe(&Element{Tag: "p", Text: strings.Repeat("é", 150)})
	if got := len([]rune(d.Text)); got != 100 {
		t.Errorf("text runes = %d, want 100", got)
	}
}

func TestRedactionSpanningTextLimit(t *testing.T) {
	n := NewNormalizer(20, 3, false, 0, true)
	tests := []struct {
		name string
		text string
		leak string
	}{
		{"card", "Card: 4111 1111 1111 1111", "4111"},
		{"email", "Mail alice.smith@example.com", "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Describe(&Element{Tag: "p", Text: tt.text}).Text
			if strings.Contains(got, tt.leak) {
				t.Errorf("Text = %q leaks %q", got, tt.leak)
			}
			if !strings.Contains(got, "[REDACTED") {
				t.Errorf("Text = %q, want redaction marker", got)
			}
			if runes := len([]rune(got)); runes > 20 {
				t.Errorf("text runes = %d, want <= 20", runes)
			}
		})
	}
}

func TestScrollData(t *testing.T) {
	n := NewNormalizer(100, 3, false, 0, false)
	data, err := n.Normalize(&RawEvent{
		Kind: models.EventScroll, ScrollY: 500, DocumentHeight: 2800, ViewportHeight: 800,
	})
	if err != nil {
		t.Fatal(err)
	}
	if data["max_scroll_y"] != float64(2000) || data["relative_y"] != 0.25 {
		t.Errorf("data = %v", data)
	}
	if _, ok := data["relative_x"]; ok {
		t.Errorf("relative_x set without document width: %v", data)
	}
}

func TestRedactor(t *testing.T) {
	r := newRedactor()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"email", "mail bob@example.org now", "mail [REDACTED:email] now"},
		{"bearer", "Authorization: Bearer abc.def-123", "Authorization: [REDACTED:bearer-token]"},
		{"valid card", "card 4111 1111 1111 1111 ok", "card [REDACTED:credit-card] ok"},
		{"luhn failure kept", "order 1234 5678 9012 3456", "order 1234 5678 9012 3456"},
		{"ssn", "ssn 123-45-6789", "ssn [REDACTED:ssn]"},
		{"plain", "nothing to see", "nothing to see"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Redact(tt.in); got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
