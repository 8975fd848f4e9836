package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/edgecheck/edgecheck/internal/health"
	"github.com/edgecheck/edgecheck/internal/logging"
	"github.com/edgecheck/edgecheck/internal/metrics"
	"github.com/edgecheck/edgecheck/internal/session"
	"github.com/edgecheck/edgecheck/internal/store"
	"github.com/edgecheck/edgecheck/pkg/types"
)

const maxBodyBytes = 64 << 10

// Config controls HTTP server settings.
type Config struct {
	Addr              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxConcurrentRuns int
}

// Dependencies holds external collaborators required by the server.
type Dependencies struct {
	Logger   logrus.FieldLogger
	Registry *store.Registry
	Metrics  *metrics.Store
	Health   *health.Checker
	Now      func() time.Time
}

// Server wraps http.Server for convenience.
type Server struct {
	*http.Server
	cfg  Config
	deps Dependencies
	runs *semaphore.Weighted
}

// New constructs an HTTP server exposing the session API.
func New(cfg Config, deps Dependencies) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 4
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewStore()
	}
	if deps.Registry == nil {
		deps.Registry = store.NewRegistry(store.Dependencies{Recorder: deps.Metrics.SessionRecorder()})
	}
	if deps.Health == nil {
		deps.Health = health.NewChecker(deps.Metrics, cfg.MaxConcurrentRuns, 0)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	srv := &Server{cfg: cfg, deps: deps, runs: semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns))}

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/sessions", srv.createHandler).Methods(http.MethodPost)
	api.HandleFunc("/sessions", srv.listHandler).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", srv.getHandler).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", srv.deleteHandler).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/validate", srv.validateHandler).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/diagnose", srv.diagnoseHandler).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/reset", srv.resetHandler).Methods(http.MethodPost)
	r.Handle("/metrics", metrics.NewHTTPHandler(deps.Metrics))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.HandleFunc("/readyz", srv.readyHandler).Methods(http.MethodGet)

	srv.Server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return srv
}

func (s *Server) createHandler(w http.ResponseWriter, r *http.Request) {
	machine, err := s.deps.Registry.Create(r.Context())
	if err != nil {
		s.deps.Logger.WithError(err).Error("create session failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	snapshot := machine.Session()
	w.Header().Set("Location", "/api/v1/sessions/"+snapshot.ID)
	writeJSON(w, http.StatusCreated, snapshot)
}

func (s *Server) listHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Items []types.Session `json:"items"`
	}{Items: s.deps.Registry.List(r.Context())})
}

func (s *Server) getHandler(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.lookup(w, r)
	if !ok {
		return
	}
	snapshot := machine.Session()
	etag := store.ComputeETag(snapshot)
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Registry.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) validateHandler(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Input string `json:"input"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}
	s.run(w, r, func() (types.Session, error) {
		return machine.Validate(r.Context(), req.Input)
	})
}

func (s *Server) diagnoseHandler(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.run(w, r, func() (types.Session, error) {
		return machine.Diagnose(r.Context())
	})
}

func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	machine, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, machine.Reset())
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ready, reasons := s.deps.Health.Ready(s.deps.Now())
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, struct {
		Ready   bool     `json:"ready"`
		Reasons []string `json:"reasons,omitempty"`
	}{Ready: ready, Reasons: reasons})
}

// run executes a session trigger when a run slot is free.
func (s *Server) run(w http.ResponseWriter, r *http.Request, trigger func() (types.Session, error)) {
	runs := s.deps.Metrics.RunRecorder()
	if !s.runs.TryAcquire(1) {
		runs.RunRejected()
		writeError(w, http.StatusServiceUnavailable, "too many diagnostic runs in progress")
		return
	}
	runs.RunStarted()
	defer func() {
		runs.RunFinished()
		s.runs.Release(1)
	}()

	snapshot, err := trigger()
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidTransition), errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrSuperseded):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.deps.Logger.WithError(err).WithField("path", r.URL.Path).Error("session trigger failed")
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Machine, bool) {
	machine, err := s.deps.Registry.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
		} else {
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return nil, false
	}
	return machine, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}
