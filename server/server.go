// Package server implements the firmdesk HTTP server, REST API, and auth.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/firmdesk/firmdesk/automation"
	"github.com/firmdesk/firmdesk/client"
	"github.com/firmdesk/firmdesk/config"
	"github.com/firmdesk/firmdesk/invoice"
	"github.com/firmdesk/firmdesk/notify"
	"github.com/firmdesk/firmdesk/server/api"
	"github.com/firmdesk/firmdesk/task"
	"github.com/firmdesk/firmdesk/template"
)

// Server is the firmdesk HTTP server.
type Server struct {
	cfg     config.Config
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *slog.Logger

	handlers *api.Handlers

	// JWT secret caching
	secretOnce      sync.Once
	generatedSecret string

	startTime time.Time
	version   string
}

// Deps bundles the domain dependencies the API serves.
type Deps struct {
	Clients     client.Store
	Templates   template.Store
	Tasks       task.Store
	Lifecycle   *task.Lifecycle
	Invoices    *invoice.SQLiteStore
	Generator   *invoice.Generator
	Settings    *automation.SettingsStore
	CommLog     notify.LogStore
	Coordinator *automation.Coordinator
}

// New creates a new Server with the given config, dependencies, and logger.
func New(cfg config.Config, deps Deps, ver string, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger,
		startTime: time.Now(),
		version:   ver,
	}
	s.handlers = &api.Handlers{
		Clients:     deps.Clients,
		Templates:   deps.Templates,
		Tasks:       deps.Tasks,
		Lifecycle:   deps.Lifecycle,
		Invoices:    deps.Invoices,
		Generator:   deps.Generator,
		Settings:    deps.Settings,
		CommLog:     deps.CommLog,
		Coordinator: deps.Coordinator,
		Logger:      logger,
		Version:     ver,
	}
	return s
}

// Start registers routes and begins listening.
func (s *Server) Start() error {
	s.registerRoutes()

	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":9090"
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.logger.Info("server listening", slog.String("addr", addr))
	return s.httpSrv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	// Public routes (no auth required)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/status", s.handlers.StatusHandler())

	// Protected API, wrapped in auth middleware
	apiMux := http.NewServeMux()
	s.handlers.RegisterRoutes(apiMux)
	apiMux.HandleFunc("GET /api/auth/me", s.handleMe)

	s.mux.Handle("/api/", s.authMiddleware(apiMux))
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
