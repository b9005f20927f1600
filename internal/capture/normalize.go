// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package capture

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/tomtom215/pulsetrack/internal/models"
)

// keptAttributes are the only element attributes copied into a descriptor.
var keptAttributes = []string{"href", "src", "alt", "title"}

// Normalizer converts raw events into record payloads.
type Normalizer struct {
	MaxTextLength      int
	MaxPathDepth       int
	CaptureInputValues bool
	MaxValueLength     int
	redact             *redactor
}

// NewNormalizer returns a Normalizer. When redact is set, free text and
// recorded input values pass through the PII filter.
func NewNormalizer(maxText, maxDepth int, captureValues bool, maxValue int, redact bool) *Normalizer {
	n := &Normalizer{
		MaxTextLength:      maxText,
		MaxPathDepth:       maxDepth,
		CaptureInputValues: captureValues,
		MaxValueLength:     maxValue,
	}
	if redact {
		n.redact = newRedactor()
	}
	return n
}

// Normalize builds the data payload for ev. It returns a *models.CaptureError
// when the event cannot be described.
func (n *Normalizer) Normalize(ev *RawEvent) (map[string]any, error) {
	switch ev.Kind {
	case models.EventMouseMove:
		return n.pointer(ev), nil

	case models.EventMouseClick:
		if err := n.requireTarget(ev); err != nil {
			return nil, err
		}
		d := n.Describe(ev.Target)
		data := n.pointer(ev)
		data["button"] = ev.Button
		data["element"] = d.Map()
		return data, nil

	case models.EventScroll:
		return n.scroll(ev), nil

	case models.EventViewportResize:
		if ev.ViewportWidth <= 0 || ev.ViewportHeight <= 0 {
			return nil, &models.CaptureError{Kind: ev.Kind, Reason: "viewport size missing"}
		}
		return map[string]any{"width": ev.ViewportWidth, "height": ev.ViewportHeight}, nil

	case models.EventFormInput, models.EventFormChange:
		if err := n.requireTarget(ev); err != nil {
			return nil, err
		}
		return n.field(ev.Target), nil

	case models.EventFormSubmit:
		if err := n.requireTarget(ev); err != nil {
			return nil, err
		}
		d := n.Describe(ev.Target)
		data := map[string]any{"form": d.Map()}
		if ev.Target.Name != "" {
			data["name"] = ev.Target.Name
		}
		return data, nil

	case models.EventVisibilityChange:
		state := "visible"
		if ev.Hidden {
			state = "hidden"
		}
		return map[string]any{"hidden": ev.Hidden, "visibility_state": state}, nil

	case models.EventPageUnload:
		return map[string]any{}, nil

	default:
		return nil, &models.CaptureError{Kind: ev.Kind, Reason: "unsupported event kind"}
	}
}

func (n *Normalizer) requireTarget(ev *RawEvent) error {
	if ev.Target == nil {
		return &models.CaptureError{Kind: ev.Kind, Reason: "missing target"}
	}
	if strings.TrimSpace(ev.Target.Tag) == "" {
		return &models.CaptureError{Kind: ev.Kind, Reason: "target has no tag"}
	}
	return nil
}

func (n *Normalizer) pointer(ev *RawEvent) map[string]any {
	data := map[string]any{
		"x":      ev.X,
		"y":      ev.Y,
		"page_x": ev.PageX,
		"page_y": ev.PageY,
	}
	if ev.ViewportWidth > 0 {
		data["relative_x"] = ratio(ev.X, float64(ev.ViewportWidth))
	}
	if ev.ViewportHeight > 0 {
		data["relative_y"] = ratio(ev.Y, float64(ev.ViewportHeight))
	}
	return data
}

func (n *Normalizer) scroll(ev *RawEvent) map[string]any {
	data := map[string]any{
		"scroll_x": ev.ScrollX,
		"scroll_y": ev.ScrollY,
	}
	if maxX := ev.DocumentWidth - float64(ev.ViewportWidth); ev.DocumentWidth > 0 && maxX > 0 {
		data["max_scroll_x"] = maxX
		data["relative_x"] = ratio(ev.ScrollX, maxX)
	}
	if maxY := ev.DocumentHeight - float64(ev.ViewportHeight); ev.DocumentHeight > 0 && maxY > 0 {
		data["max_scroll_y"] = maxY
		data["relative_y"] = ratio(ev.ScrollY, maxY)
	}
	return data
}

// field describes a form control. Password values are never read; other
// values only when input value capture is enabled.
func (n *Normalizer) field(el *Element) map[string]any {
	inputType := strings.ToLower(el.InputType)
	data := map[string]any{
		"tag":        strings.ToLower(el.Tag),
		"has_value":  el.Value != "",
		"input_type": inputType,
	}
	if el.ID != "" {
		data["id"] = el.ID
	}
	if el.Name != "" {
		data["name"] = el.Name
	}
	if inputType == "password" {
		return data
	}
	data["value_length"] = utf8.RuneCountInString(el.Value)
	if n.CaptureInputValues && el.Value != "" {
		data["value"] = n.clean(el.Value, n.MaxValueLength)
	}
	return data
}

// Describe builds the element descriptor for el.
func (n *Normalizer) Describe(el *Element) models.ElementDescriptor {
	d := models.ElementDescriptor{
		Tag:     strings.ToLower(el.Tag),
		ID:      el.ID,
		Classes: strings.Join(el.Classes, " "),
		Text:    n.clean(el.Text, n.MaxTextLength),
		Path:    n.path(el),
	}
	for _, name := range keptAttributes {
		if v, ok := el.Attributes[name]; ok && v != "" {
			if d.Attributes == nil {
				d.Attributes = make(map[string]string)
			}
			d.Attributes[name] = v
		}
	}
	return d
}

// path renders at most MaxPathDepth segments, outermost first.
func (n *Normalizer) path(el *Element) string {
	depth := n.MaxPathDepth
	if depth <= 0 {
		depth = 3
	}
	var segs []string
	for cur := el; cur != nil && len(segs) < depth; cur = cur.Parent {
		segs = append(segs, segment(cur))
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, " > ")
}

func segment(el *Element) string {
	tag := strings.ToLower(el.Tag)
	switch {
	case el.ID != "":
		return tag + "#" + el.ID
	case len(el.Classes) > 0 && el.Classes[0] != "":
		return tag + "." + el.Classes[0]
	default:
		return tag
	}
}

func (n *Normalizer) clean(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	// Redaction sees the full text; truncation can only cut a placeholder.
	if n.redact != nil {
		s = n.redact.Redact(s)
	}
	return truncate(s, limit)
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit])
}

func ratio(v, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(v/total*10000) / 10000
}
