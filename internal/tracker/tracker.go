// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/pulsetrack/internal/batch"
	"github.com/tomtom215/pulsetrack/internal/capture"
	"github.com/tomtom215/pulsetrack/internal/clock"
	"github.com/tomtom215/pulsetrack/internal/config"
	"github.com/tomtom215/pulsetrack/internal/logging"
	"github.com/tomtom215/pulsetrack/internal/models"
	"github.com/tomtom215/pulsetrack/internal/session"
	"github.com/tomtom215/pulsetrack/internal/storage"
	"github.com/tomtom215/pulsetrack/internal/store"
)

var (
	// ErrNotRunning is returned by operations on a tracker that is not started.
	ErrNotRunning = errors.New("tracker: not running")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("tracker: already started")
	// ErrInboxFull is returned by TrackCustom when the loop is saturated.
	ErrInboxFull = errors.New("tracker: inbox full")
)

// Sender performs one bulk request. A nil error is an acknowledgment.
type Sender interface {
	Send(ctx context.Context, mode string, payload []byte) error
}

// Beacon queues a detached best-effort request.
type Beacon interface {
	Queue(payload []byte) error
}

// Streamer carries high-value records on the streaming channel.
type Streamer interface {
	Send(ev models.TrackingEvent) error
}

// runner is implemented by streamers that own a connection loop.
type runner interface {
	Run(ctx context.Context) error
}

// Deps are the tracker's collaborators. Source, KV and Sender are required.
type Deps struct {
	Source   capture.Source
	KV       storage.KV
	Sender   Sender
	Beacon   Beacon           // nil: teardown always sends synchronously
	Notifier session.Notifier // nil: no session notifications
	Stream   Streamer         // nil: streaming disabled
	Clock    clock.Clock
	Rand     capture.Rand
}

// Stats is a snapshot of the tracker taken on the event loop.
type Stats struct {
	Running       bool
	SessionID     string
	Buffered      int
	LogEntries    int
	InFlight      int
	Flushes       uint64
	Acked         uint64
	Failed        uint64
	MemoryOnly    uint64
	Beacons       uint64
	SyncSends     uint64
	Persisted     uint64 // teardown batches kept for the next start
	InboxDropped  uint64
	StreamDropped uint64
	Rotations     uint64
}

// Tracker is one capture-and-delivery pipeline.
type Tracker struct {
	cfg         *config.Config
	deps        Deps
	clock       clock.Clock
	capturer    *capture.Capturer
	buffer      *batch.Buffer
	sched       *batch.Scheduler
	sessions    *session.Manager
	streamTypes map[models.EventType]bool
	format      models.PayloadFormat

	// Loop-owned state.
	log        *store.Log
	dispose    capture.Disposer
	idleTimer  clock.Timer
	recovery   clock.Timer
	sweeping   bool
	inFlight   map[uint64]inFlightSend
	nextSendID uint64
	stats      Stats
	running    bool

	inbox    chan func()
	quit     chan struct{}
	loopDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	quitOnce sync.Once
	started  atomic.Bool
	sends    sync.WaitGroup
	streamWG sync.WaitGroup

	inboxDropped atomic.Uint64
}

type inFlightSend struct {
	seq     uint64 // zero for memory-only batches
	payload []byte
}

// New builds a tracker from cfg and deps. It does not start it.
func New(cfg *config.Config, deps Deps) (*Tracker, error) {
	if cfg == nil {
		return nil, errors.New("tracker: nil config")
	}
	if deps.Source == nil || deps.KV == nil || deps.Sender == nil {
		return nil, errors.New("tracker: source, kv and sender are required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Rand == nil {
		deps.Rand = capture.NewRand(uint64(time.Now().UnixNano()))
	}

	page := cfg.Page
	t := &Tracker{
		cfg:         cfg,
		deps:        deps,
		clock:       deps.Clock,
		capturer:    capture.NewFromConfig(&cfg.Capture, deps.Clock, deps.Rand),
		buffer:      batch.NewBuffer(cfg.Tracker.BatchSize),
		sched:       batch.NewScheduler(cfg.Tracker.BatchSize, cfg.Tracker.BatchInterval, deps.Clock),
		streamTypes: cfg.StreamTypeSet(),
		format:      models.PayloadFormat(cfg.Tracker.PayloadFormat),
		inFlight:    make(map[uint64]inFlightSend),
		inbox:       make(chan func(), max(cfg.Tracker.InboxSize, 16)),
		quit:        make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
	t.sessions = session.NewManager(session.Options{
		KV:            deps.KV,
		IdleTimeout:   cfg.Tracker.IdleTimeout,
		Clock:         deps.Clock,
		Notifier:      deps.Notifier,
		NotifyTimeout: cfg.Delivery.SendTimeout,
		Metadata: models.SessionMetadata{
			UserAgent: page.UserAgent,
			Viewport:  models.Viewport{Width: page.ViewportWidth, Height: page.ViewportHeight},
			Screen:    models.Viewport{Width: page.ScreenWidth, Height: page.ScreenHeight},
			Referrer:  page.Referrer,
			Locale:    page.Language,
			Timezone:  page.Timezone,
		},
	})
	return t, nil
}

// Start opens the durable log, starts a session, subscribes capture and arms
// the flush, idle and recovery timers. A log that cannot be opened degrades
// the tracker to memory-only delivery.
func (t *Tracker) Start(ctx context.Context) error {
	if t.started.Swap(true) {
		return ErrAlreadyStarted
	}
	t.ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))

	log, err := store.Open(ctx, t.deps.KV, store.Options{Capacity: t.cfg.Storage.Capacity})
	if err != nil {
		logging.Warn().Err(err).Msg("Durable log unavailable, delivering memory-only")
	}

	go t.loop()

	err = t.do(func() error {
		t.log = log
		return t.begin()
	})
	if err != nil {
		t.shutdownLoop()
		return err
	}

	if r, ok := t.deps.Stream.(runner); ok {
		t.streamWG.Add(1)
		go func() {
			defer t.streamWG.Done()
			if err := r.Run(t.ctx); err != nil {
				logging.Warn().Err(err).Msg("Stream stopped")
			}
		}()
	}
	return nil
}

// begin runs on the loop.
func (t *Tracker) begin() error {
	s, _ := t.sessions.Start(t.ctx)
	t.running = true
	t.stats.Running = true

	now := t.clock.Now()
	t.appendEvent(t.stamp(models.EventSessionStart, now, map[string]any{
		"user_agent": t.cfg.Page.UserAgent,
		"referrer":   t.cfg.Page.Referrer,
	}))
	t.appendEvent(t.stamp(models.EventPageView, now, map[string]any{
		"url":      t.cfg.Page.URL,
		"title":    t.cfg.Page.Title,
		"referrer": t.cfg.Page.Referrer,
	}))

	kinds := enabledKinds(t.cfg.Capture.Disabled)
	dispose, err := t.capturer.Subscribe(t.deps.Source, kinds, t.onCapture)
	if err != nil {
		t.running = false
		t.stats.Running = false
		_, _ = t.sessions.End(t.ctx, "stop")
		return fmt.Errorf("subscribe capture: %w", err)
	}
	t.dispose = dispose

	t.sched.Start(func() { t.post(t.onTick) })
	t.armIdle()
	t.sweep()
	t.armRecovery()

	logging.Info().
		Str("session_id", s.ID).
		Int("kinds", len(kinds)).
		Int("pending_batches", t.logLen()).
		Msg("Tracker started")
	return nil
}

// Stop tears the tracker down. It does not wait for in-flight normal sends;
// their batches remain in the durable log until acknowledged.
func (t *Tracker) Stop() error {
	if !t.started.Load() {
		return ErrNotRunning
	}
	var err error
	t.stopOnce.Do(func() {
		err = t.do(t.teardown)
		t.shutdownLoop()
		t.streamWG.Wait()
	})
	return err
}

// Wait blocks until background sends and session notifications finish or
// ctx ends.
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.sends.Wait()
		t.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrackCustom records an application-defined event named custom_<name>.
func (t *Tracker) TrackCustom(name string, data map[string]any) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("tracker: empty custom event name")
	}
	typ := models.CustomEventType(name)
	owned, err := copyCustomData(data)
	if err != nil {
		return &models.CaptureError{Kind: typ, Reason: err.Error()}
	}
	at := t.clock.Now()
	rec := capture.Record{Type: typ, Time: at, Data: owned}
	if !t.post(func() { t.onRecord(rec) }) {
		return ErrInboxFull
	}
	return nil
}

// copyCustomData round-trips data through the encoder. The result shares
// nothing with the caller's map, and values the batch encoder would reject
// are refused here instead of at flush time.
func copyCustomData(data map[string]any) (map[string]any, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var owned map[string]any
	if err := json.Unmarshal(raw, &owned); err != nil {
		return nil, err
	}
	return owned, nil
}

// Flush drains the buffer now.
func (t *Tracker) Flush() error {
	return t.do(func() error {
		if !t.running {
			return ErrNotRunning
		}
		t.flush(models.FlushManual)
		return nil
	})
}

// Stats returns a snapshot taken on the loop.
func (t *Tracker) Stats() (Stats, error) {
	var s Stats
	err := t.do(func() error {
		s = t.stats
		s.SessionID = t.sessions.ID()
		s.Buffered = t.buffer.Len()
		s.LogEntries = t.logLen()
		s.InFlight = len(t.inFlight)
		return nil
	})
	s.InboxDropped = t.inboxDropped.Load()
	return s, err
}

// Settle waits until no send or recovery sweep is outstanding.
func (t *Tracker) Settle(ctx context.Context) error {
	for {
		var idle bool
		if err := t.do(func() error {
			idle = len(t.inFlight) == 0 && !t.sweeping
			return nil
		}); err != nil {
			return err
		}
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// Capturer exposes capture counters.
func (t *Tracker) Capturer() *capture.Capturer { return t.capturer }

func enabledKinds(disabled []string) []models.EventType {
	off := make(map[models.EventType]bool, len(disabled))
	for _, d := range disabled {
		off[models.EventType(d)] = true
	}
	kinds := make([]models.EventType, 0, len(capture.DefaultKinds))
	for _, k := range capture.DefaultKinds {
		if !off[k] {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (t *Tracker) logLen() int {
	if t.log == nil {
		return 0
	}
	return t.log.Len()
}
