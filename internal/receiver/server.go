// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/pulsetrack/internal/config"
	"github.com/tomtom215/pulsetrack/internal/logging"
	"github.com/tomtom215/pulsetrack/internal/metrics"
	"github.com/tomtom215/pulsetrack/internal/models"
	"github.com/tomtom215/pulsetrack/internal/validation"
	"github.com/tomtom215/pulsetrack/internal/websocket"
)

const shutdownTimeout = 5 * time.Second

// Server is the development receiver.
type Server struct {
	cfg   config.ReceiverConfig
	store *Store
	hub   *websocket.Hub
	now   func() time.Time

	handler http.Handler
}

// New builds a receiver from cfg.
func New(cfg config.ReceiverConfig) *Server {
	s := &Server{
		cfg:   cfg,
		store: NewStore(cfg.DedupWindow),
		now:   time.Now,
	}
	s.hub = websocket.NewHub(s.onStreamed)
	s.handler = s.routes()
	return s
}

// Store exposes the accepted data.
func (s *Server) Store() *Store { return s.store }

// Handler returns the routed handler. RunHub must be running for the
// websocket routes to register clients.
func (s *Server) Handler() http.Handler { return s.handler }

// RunHub runs the websocket hub until ctx ends.
func (s *Server) RunHub(ctx context.Context) error { return s.hub.RunWithContext(ctx) }

// Serve listens on cfg.ListenAddr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("receiver listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go func() { _ = s.RunHub(hubCtx) }()

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	logging.Info().Str("addr", ln.Addr().String()).Msg("Receiver listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("receiver serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("Receiver shutdown incomplete")
		}
		return ctx.Err()
	}
}

// String names the service in supervisor logs.
func (s *Server) String() string { return "receiver" }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))
	r.Use(requestMetrics)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.cfg.RateLimitRequests > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimitRequests, s.cfg.RateLimitWindow))
		}
		r.Post("/events", s.postEvents)
		r.Get("/events", s.getEvents)
		r.Post("/sessions", s.postSession)
		r.Patch("/sessions/{id}", s.patchSession)
		r.Get("/sessions/{id}", s.getSession)
	})

	r.Get("/ws", s.hub.Handler(false))
	r.Get("/ws/live", s.hub.Handler(true))
	return r
}

// requestMetrics counts requests by route pattern and status.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ReceiverRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.GetClientCount(),
	})
}

func (s *Server) postEvents(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		bodyError(w, err)
		return
	}
	_, events, err := models.DecodeEvents(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed payload", err)
		return
	}
	if err := checkEvents(events); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error(), nil)
		return
	}

	if !s.store.AcceptPayload(body, events) {
		metrics.ReceiverDuplicates.Inc()
		respondJSON(w, http.StatusOK, map[string]any{"status": "duplicate", "accepted": 0})
		return
	}
	metrics.ReceiverEvents.Add(float64(len(events)))
	for _, ev := range events {
		s.hub.Publish(ev)
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "accepted": len(events)})
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get("session_id")
	if r.URL.Query().Get("source") == "stream" {
		respondJSON(w, http.StatusOK, s.store.Streamed(sid))
		return
	}
	respondJSON(w, http.StatusOK, s.store.Events(sid))
}

func (s *Server) postSession(w http.ResponseWriter, r *http.Request) {
	var req models.SessionCreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if s.store.UpsertSession(req, s.now()) {
		respondJSON(w, http.StatusCreated, map[string]any{"session_id": req.SessionID})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": req.SessionID})
}

func (s *Server) patchSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req models.SessionEndRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.store.EndSession(id, req) {
		respondError(w, http.StatusNotFound, "unknown session", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.store.Session(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown session", nil)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) onStreamed(ev models.TrackingEvent) {
	s.store.AddStreamed(ev)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
}

func bodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondError(w, http.StatusRequestEntityTooLarge, "payload too large", err)
		return
	}
	respondError(w, http.StatusBadRequest, "unreadable body", err)
}

// decode reads and validates a JSON body into v, writing the error response
// itself when it fails.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := s.readBody(w, r)
	if err != nil {
		bodyError(w, err)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		respondError(w, http.StatusBadRequest, "malformed body", err)
		return false
	}
	if err := validation.ValidateStruct(v); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error(), nil)
		return false
	}
	return true
}

func checkEvents(events []models.TrackingEvent) error {
	if len(events) == 0 {
		return errors.New("no events")
	}
	for i, ev := range events {
		if !ev.EventType.Valid() {
			return fmt.Errorf("events[%d]: unknown event_type %q", i, ev.EventType)
		}
		if ev.SessionID == "" {
			return fmt.Errorf("events[%d]: session_id is required", i)
		}
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Debug().Err(err).Msg("Failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		logging.Debug().Err(err).Int("status", status).Msg("Receiver request rejected")
	}
	respondJSON(w, status, map[string]any{"status": "error", "error": message})
}
