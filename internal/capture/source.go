// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package capture

import (
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/pulsetrack/internal/models"
)

// ErrSourceClosed is returned by Listen on a closed source.
var ErrSourceClosed = errors.New("capture: source closed")

// Element describes the target of an interaction and its ancestors.
type Element struct {
	Tag        string            `json:"tag"`
	ID         string            `json:"id,omitempty"`
	Classes    []string          `json:"classes,omitempty"`
	Text       string            `json:"text,omitempty"`
	Name       string            `json:"name,omitempty"`
	InputType  string            `json:"input_type,omitempty"`
	Value      string            `json:"value,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Parent     *Element          `json:"parent,omitempty"`
}

// RawEvent is one interaction as reported by a Source.
type RawEvent struct {
	Kind models.EventType `json:"kind"`
	Time time.Time        `json:"time,omitempty"`

	// Pointer position relative to the viewport and to the document.
	X     float64 `json:"x,omitempty"`
	Y     float64 `json:"y,omitempty"`
	PageX float64 `json:"page_x,omitempty"`
	PageY float64 `json:"page_y,omitempty"`

	// Scroll offsets and document extent.
	ScrollX        float64 `json:"scroll_x,omitempty"`
	ScrollY        float64 `json:"scroll_y,omitempty"`
	DocumentWidth  float64 `json:"document_width,omitempty"`
	DocumentHeight float64 `json:"document_height,omitempty"`

	// Viewport size at the time of the event.
	ViewportWidth  int `json:"viewport_width,omitempty"`
	ViewportHeight int `json:"viewport_height,omitempty"`

	Button int      `json:"button,omitempty"`
	Target *Element `json:"target,omitempty"`
	Hidden bool     `json:"hidden,omitempty"`
}

// Handler receives raw events. Handlers must not block.
type Handler func(RawEvent)

// Source is a host environment that reports interactions.
type Source interface {
	// Listen registers h for kind. The returned cancel func deregisters it.
	Listen(kind models.EventType, h Handler) (cancel func(), err error)
}

// hub fans raw events out to registered handlers by kind.
type hub struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[models.EventType]map[uint64]Handler
	closed   bool
}

func newHub() *hub {
	return &hub{handlers: make(map[models.EventType]map[uint64]Handler)}
}

func (h *hub) Listen(kind models.EventType, fn Handler) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrSourceClosed
	}
	h.nextID++
	id := h.nextID
	if h.handlers[kind] == nil {
		h.handlers[kind] = make(map[uint64]Handler)
	}
	h.handlers[kind][id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.handlers[kind], id)
	}, nil
}

func (h *hub) dispatch(ev RawEvent) int {
	h.mu.RLock()
	fns := make([]Handler, 0, len(h.handlers[ev.Kind]))
	for _, fn := range h.handlers[ev.Kind] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
	return len(fns)
}

func (h *hub) listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.handlers {
		n += len(m)
	}
	return n
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.handlers = make(map[models.EventType]map[uint64]Handler)
}

// ChannelSource is a Source driven by calls to Emit.
type ChannelSource struct {
	h *hub
}

// NewChannelSource returns an empty ChannelSource.
func NewChannelSource() *ChannelSource {
	return &ChannelSource{h: newHub()}
}

// Listen implements Source.
func (s *ChannelSource) Listen(kind models.EventType, fn Handler) (func(), error) {
	return s.h.Listen(kind, fn)
}

// Emit delivers ev synchronously to every handler registered for its kind and
// reports how many received it.
func (s *ChannelSource) Emit(ev RawEvent) int {
	return s.h.dispatch(ev)
}

// Listeners returns the number of registered handlers.
func (s *ChannelSource) Listeners() int {
	return s.h.listeners()
}

// Close drops every handler and rejects further Listen calls.
func (s *ChannelSource) Close() {
	s.h.close()
}
