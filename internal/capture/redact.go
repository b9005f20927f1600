// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package capture

import (
	"regexp"
	"strings"
)

// redactor scrubs personal data out of captured text. Patterns are RE2, so
// matching is linear in the input.
type redactor struct {
	patterns []redactPattern
}

type redactPattern struct {
	name        string
	re          *regexp.Regexp
	replacement string
	validate    func(string) bool
}

var builtinRedactions = []struct {
	name     string
	pattern  string
	validate func(string) bool
}{
	{name: "email", pattern: `[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`},
	{name: "bearer-token", pattern: `Bearer [A-Za-z0-9\-._~+/]+=*`},
	{name: "jwt", pattern: `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]+`},
	{name: "credit-card", pattern: `\b[0-9]{4}[- ]?[0-9]{4}[- ]?[0-9]{4}[- ]?[0-9]{4}\b`, validate: luhnValid},
	{name: "ssn", pattern: `\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`},
}

func newRedactor() *redactor {
	r := &redactor{}
	for _, b := range builtinRedactions {
		r.patterns = append(r.patterns, redactPattern{
			name:        b.name,
			re:          regexp.MustCompile(b.pattern),
			replacement: "[REDACTED:" + b.name + "]",
			validate:    b.validate,
		})
	}
	return r
}

func (r *redactor) Redact(s string) string {
	if r == nil || s == "" {
		return s
	}
	for _, p := range r.patterns {
		if p.validate == nil {
			s = p.re.ReplaceAllString(s, p.replacement)
			continue
		}
		s = p.re.ReplaceAllStringFunc(s, func(m string) string {
			if p.validate(m) {
				return p.replacement
			}
			return m
		})
	}
	return s
}

// luhnValid reports whether the digits in s pass the Luhn checksum.
func luhnValid(s string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 13 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
