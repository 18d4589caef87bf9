// Package api exposes the scanner over HTTP: status, control, the latest
// snapshot, recent diagnostic events and a websocket stream of both.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/unklstewy/adsb-scanner/internal/auth"
	"github.com/unklstewy/adsb-scanner/internal/metrics"
	"github.com/unklstewy/adsb-scanner/internal/scanner"
)

// ContentTypeMsgpack selects msgpack encoding for the snapshot endpoint.
const ContentTypeMsgpack = "application/msgpack"

// recentEvents is the size of the in-memory event history used when no
// archive is configured.
const recentEvents = 200

// Scanner is the control surface of the scanner controller.
type Scanner interface {
	Start()
	Stop()
	UpdateConfig(u scanner.ConfigUpdate) error
	Status() scanner.Status
}

// EventArchive returns archived diagnostic events, newest first.
type EventArchive interface {
	Recent(ctx context.Context, limit int, severity scanner.Severity) ([]scanner.LogEvent, error)
}

// Options configures a Server.
type Options struct {
	// AllowedOrigins lists CORS origins; empty allows all
	AllowedOrigins []string

	// MetricsEnabled mounts the Prometheus handler at /metrics
	MetricsEnabled bool

	// Archive serves /events from persistent storage when set
	Archive EventArchive

	// Auth guards the control routes with operator tokens when enabled
	Auth *auth.Service

	Logger *slog.Logger
}

// Server holds the HTTP router and the latest scanner output.
type Server struct {
	router  *chi.Mux
	scanner Scanner
	archive EventArchive
	hub     *Hub
	logger  *slog.Logger

	mu       sync.RWMutex
	snapshot *scanner.Snapshot
	events   []scanner.LogEvent
}

// NewServer creates the API server.
func NewServer(sc Scanner, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:  chi.NewRouter(),
		scanner: sc,
		archive: opts.Archive,
		logger:  logger,
		hub:     NewHub(logger, originChecker(opts.AllowedOrigins)),
	}
	s.setupRoutes(opts)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close disconnects stream clients.
func (s *Server) Close() {
	s.hub.Close()
}

// PublishSnapshot records snap as the latest snapshot and streams it.
// A snapshot from a superseded session is dropped.
func (s *Server) PublishSnapshot(snap scanner.Snapshot) {
	if snap.Session != s.scanner.Status().Session {
		return
	}

	s.mu.Lock()
	s.snapshot = &snap
	s.mu.Unlock()

	s.hub.Broadcast(FrameSnapshot, snap)
}

// PublishEvent appends ev to the recent history and streams it.
func (s *Server) PublishEvent(ev scanner.LogEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	if over := len(s.events) - recentEvents; over > 0 {
		s.events = s.events[over:]
	}
	s.mu.Unlock()

	s.hub.Broadcast(FrameEvent, ev)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(opts Options) {
	r := s.router

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/events", s.handleEvents)
		r.Get("/stream", s.handleStream)

		// Control routes
		r.Group(func(r chi.Router) {
			r.Use(opts.Auth.Require(auth.RoleOperator, denyAuth))
			r.Put("/config", s.handleSetConfig)
			r.Post("/scanner/start", s.handleStart)
			r.Post("/scanner/stop", s.handleStop)
		})
	})

	if opts.MetricsEnabled {
		r.Handle("/metrics", metrics.Handler())
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.scanner.Status())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snap := s.snapshot
	s.mu.RUnlock()

	if snap == nil {
		respondError(w, http.StatusNotFound, "no snapshot yet")
		return
	}

	// A snapshot from a superseded session is never served
	if snap.Session != s.scanner.Status().Session {
		respondError(w, http.StatusNotFound, "no snapshot for the current session")
		return
	}

	if acceptsMsgpack(r) {
		respondMsgpack(w, http.StatusOK, snap)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// handleSetConfig applies a partial settings update; omitted fields keep
// their current value.
func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var req scanner.ConfigUpdate
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.scanner.UpdateConfig(req); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, scanner.ErrUnknownProvider) {
			status = http.StatusUnprocessableEntity
		}
		respondError(w, status, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, s.scanner.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.scanner.Start()
	status := s.scanner.Status()
	s.hub.Broadcast(FrameStatus, status)
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.scanner.Stop()
	status := s.scanner.Status()
	s.hub.Broadcast(FrameStatus, status)
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	severity := scanner.Severity(strings.ToUpper(r.URL.Query().Get("severity")))
	switch severity {
	case "", scanner.SeverityInfo, scanner.SeverityWarn, scanner.SeverityError, scanner.SeveritySuccess:
	default:
		respondError(w, http.StatusBadRequest, "unknown severity "+string(severity))
		return
	}

	if s.archive != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		events, err := s.archive.Recent(ctx, limit, severity)
		if err != nil {
			s.logger.Error("Failed to query event archive", "error", err)
			respondError(w, http.StatusServiceUnavailable, "event archive unavailable")
			return
		}
		respondJSON(w, http.StatusOK, events)
		return
	}

	respondJSON(w, http.StatusOK, s.recent(limit, severity))
}

// recent returns in-memory events newest first.
func (s *Server) recent(limit int, severity scanner.Severity) []scanner.LogEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]scanner.LogEvent, 0, min(limit, len(s.events)))
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := s.events[i]
		if severity != "" && ev.Severity != severity {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var initial [][]byte
	if frame, err := encodeFrame(FrameStatus, s.scanner.Status()); err == nil {
		initial = append(initial, frame)
	}

	s.mu.RLock()
	snap := s.snapshot
	s.mu.RUnlock()
	if snap != nil && snap.Session == s.scanner.Status().Session {
		if frame, err := encodeFrame(FrameSnapshot, snap); err == nil {
			initial = append(initial, frame)
		}
	}

	s.hub.serve(w, r, initial...)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	for _, o := range allowed {
		if o == "*" {
			return nil
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

func acceptsMsgpack(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(mt, ContentTypeMsgpack) || strings.EqualFold(mt, "application/x-msgpack") {
			return true
		}
	}
	return false
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondMsgpack encodes data with msgpack using the json field names.
func respondMsgpack(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", ContentTypeMsgpack)
	w.WriteHeader(status)
	enc := msgpack.NewEncoder(w)
	enc.SetCustomStructTag("json")
	enc.Encode(data)
}

func denyAuth(w http.ResponseWriter, status int, err error) {
	respondError(w, status, err.Error())
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error": message,
	})
}
