// Package api provides the HTTP and WebSocket run service for the fund engine.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/meridian-capital/fund-engine/internal/fund"
	"github.com/meridian-capital/fund-engine/pkg/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Builder constructs a fresh fund engine wired to the given emitter. The
// server owns run lifecycles; the caller owns how a run is assembled.
type Builder func(emitter fund.Emitter) (*fund.Fund, error)

// RunStatus describes one engine run.
type RunStatus struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"` // running, completed, failed
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Server exposes run control, status, a websocket event stream, and
// prometheus metrics over HTTP.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	hub        *Hub
	builder    Builder
	runs       map[string]*RunStatus

	// runCtx bounds runs started over HTTP to the server's lifetime, not the
	// start request's: net/http cancels a request context as soon as the
	// handler returns.
	runCtx    context.Context
	runCancel context.CancelFunc
}

// NewServer creates the run service. The hub must be started separately via
// go hub.Run().
func NewServer(logger *zap.Logger, config *types.ServerConfig, hub *Hub, builder Builder) *Server {
	s := &Server{
		logger:  logger,
		config:  config,
		router:  mux.NewRouter(),
		hub:     hub,
		builder: builder,
		runs:    make(map[string]*RunStatus),
	}
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.setupRoutes()
	return s
}

// Router returns the underlying router, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/runs", s.handleStartRun).Methods("POST")
	s.router.HandleFunc("/api/v1/runs", s.handleListRuns).Methods("GET")
	s.router.HandleFunc("/api/v1/runs/{id}", s.handleGetRun).Methods("GET")
	s.router.HandleFunc("/api/v1/portfolios", s.handlePortfolios).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc(s.config.WebSocketPath, s.hub.HandleWebSocket)
}

// Start starts the HTTP server and blocks until it shuts down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Run service listening", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop cancels outstanding HTTP-started runs and shuts the HTTP server down
// gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.runCancel()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// StartRun builds and launches a new engine run in the background.
func (s *Server) StartRun(ctx context.Context) (*RunStatus, error) {
	f, err := s.builder(fund.MultiEmitter(fund.NewLogEmitter(s.logger), s.hub))
	if err != nil {
		return nil, fmt.Errorf("build run: %w", err)
	}

	status := &RunStatus{
		ID:        uuid.New().String(),
		Status:    "running",
		StartedAt: time.Now(),
	}
	s.mu.Lock()
	s.runs[status.ID] = status
	s.mu.Unlock()

	go func() {
		err := f.Run(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		status.FinishedAt = time.Now()
		if err != nil {
			status.Status = "failed"
			status.Error = err.Error()
			s.logger.Error("Run failed", zap.String("id", status.ID), zap.Error(err))
			return
		}
		status.Status = "completed"
		s.logger.Info("Run completed", zap.String("id", status.ID))
	}()

	return status, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now(),
	})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	status, err := s.StartRun(s.runCtx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, status)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	runs := make([]*RunStatus, 0, len(s.runs))
	for _, run := range s.runs {
		cp := *run
		runs = append(runs, &cp)
	}
	s.mu.RUnlock()
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	run, ok := s.runs[id]
	var cp RunStatus
	if ok {
		cp = *run
	}
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown run %q", id))
		return
	}
	s.writeJSON(w, http.StatusOK, &cp)
}

func (s *Server) handlePortfolios(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.hub.PortfolioStates())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
