// Package apiserver exposes the coordinator over HTTP: a synchronous
// trigger endpoint, paginated/single record reads, liveness and readiness
// probes, and the /ws real-time feed mounted from internal/wshub.
package apiserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/threatanalysis/coordinator/internal/apierrors"
	"github.com/threatanalysis/coordinator/internal/coordinator"
	"github.com/threatanalysis/coordinator/internal/domain"
	"github.com/threatanalysis/coordinator/internal/logging"
	"github.com/threatanalysis/coordinator/internal/store"
	"github.com/threatanalysis/coordinator/internal/wshub"
)

// Readiness reports whether each dependency the coordinator needs has
// finished initializing. Swapped in atomically by the caller as components
// come up; read on every GET /ready.
type Readiness struct {
	Coordinator bool
	Analysts    bool
	Analyzers   bool
	Broker      bool
}

func (r Readiness) allReady() bool {
	return r.Coordinator && r.Analysts && r.Analyzers && r.Broker
}

// Server wires the Coordinator, SharedStore, and wshub.Hub behind chi's
// router, matching the teacher's middleware-stacked HTTP server shape.
type Server struct {
	coord   *coordinator.Coordinator
	store   store.Store
	hub     *wshub.Hub
	logger  logging.Logger
	version string
	started time.Time

	ready atomic.Value // Readiness
}

// New builds a Server. Call Handler() to get the http.Handler to serve.
func New(coord *coordinator.Coordinator, st store.Store, hub *wshub.Hub, version string, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NoOp{}
	}
	s := &Server{
		coord:   coord,
		store:   st,
		hub:     hub,
		logger:  logger.With("apiserver"),
		version: version,
		started: time.Now(),
	}
	s.ready.Store(Readiness{})
	return s
}

// SetReady updates the snapshot GET /ready reports.
func (s *Server) SetReady(r Readiness) { s.ready.Store(r) }

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/threats", func(r chi.Router) {
		r.Post("/trigger", s.handleTrigger)
		r.Get("/", s.handleRecent)
		r.Get("/{id}", s.handleByID)
	})
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.hub != nil {
		r.Get("/ws", s.hub.ServeWS)
	}
	return otelhttp.NewHandler(r, "threatanalysisd")
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var signal domain.ThreatSignal
	if err := json.NewDecoder(r.Body).Decode(&signal); err != nil {
		writeError(w, apierrors.Wrap("apiserver.handleTrigger", "invalid_signal", "",
			apierrors.ErrInvalidSignal))
		return
	}
	if signal.DetectedAt.IsZero() {
		signal.DetectedAt = time.Now()
	}

	record, err := s.coord.Analyze(r.Context(), signal)
	if err != nil {
		s.logger.WarnContext(r.Context(), "analysis failed", logging.Fields{"error": err.Error()})
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, apierrors.Wrap("apiserver.handleRecent", "internal", "", err))
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, ok, err := s.store.ByID(r.Context(), id)
	if err != nil {
		writeError(w, apierrors.Wrap("apiserver.handleByID", "internal", id, err))
		return
	}
	if !ok {
		writeError(w, apierrors.Wrap("apiserver.handleByID", "not_found", id, apierrors.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := s.ready.Load().(Readiness)
	body := map[string]interface{}{
		"coordinator": ready.Coordinator,
		"analysts":    ready.Analysts,
		"analyzers":   ready.Analyzers,
		"broker":      ready.Broker,
	}
	if !ready.allReady() {
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := apierrors.HTTPStatus(err)
	writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}
