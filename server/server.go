// Package server exposes the HTTP trigger API: run an action flow by
// name over POST, plus health and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/flowrunner/flow"
	"github.com/c360studio/flowrunner/metrics"
)

const maxBodyBytes = 4 << 20

// Server serves flow triggers over HTTP.
type Server struct {
	addr         string
	orchestrator *flow.Orchestrator
	logger       *slog.Logger
	metrics      *metrics.Metrics

	mu      sync.Mutex
	flows   map[string]*flow.Flow
	running bool
	actual  string
	httpSrv *http.Server
	done    chan struct{}
}

// New creates a server for the given flows. Only action flows are
// triggerable; other kinds 404 like unknown names.
func New(addr string, flows []*flow.Flow, orchestrator *flow.Orchestrator, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]*flow.Flow, len(flows))
	for _, f := range flows {
		if f.Kind == flow.KindAction {
			byName[f.Name] = f
		}
	}
	return &Server{
		addr:         addr,
		orchestrator: orchestrator,
		logger:       logger.With("component", "server"),
		metrics:      m,
		flows:        byName,
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.actual = listener.Addr().String()

	s.httpSrv = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.done = make(chan struct{})
	s.running = true

	go func() {
		defer close(s.done)
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed", "error", err)
		}
	}()

	s.logger.Info("Trigger server listening", "addr", s.actual, "flows", len(s.flows))
	return nil
}

// Stop shuts the server down, draining in-flight requests.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.httpSrv
	done := s.done
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-done
	s.logger.Info("Trigger server stopped")
	return nil
}

// Addr reports the bound address once Start has returned.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actual
}

func (s *Server) routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		router.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
	router.Post("/flows/{name}", s.handleTrigger)
	return router
}

// handleTrigger runs the named action flow with the request body as
// user_payload and answers with the per-job results.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.mu.Lock()
	f, ok := s.flows[name]
	s.mu.Unlock()
	if !ok {
		err := fmt.Errorf("%w: %q", flow.ErrUnknownFlow, name)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	var payload any
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be JSON"})
			return
		}
	}

	start := time.Now()
	results, err := s.orchestrator.RunAction(r.Context(), f, payload)
	if err != nil {
		s.logger.Error("Flow trigger failed", "flow", name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.logger.Info("Flow triggered", "flow", name, "duration", time.Since(start))
	writeJSON(w, http.StatusOK, results)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
