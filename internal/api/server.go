// Package api serves the operator dashboard: a small JSON API over the
// control service plus a WebSocket stream of live events. The API is a
// thin shell; validation and business rules live in internal/control.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"autotrader/internal/config"
	"autotrader/internal/control"
)

// Server runs the HTTP/WebSocket dashboard.
type Server struct {
	cfg      config.DashboardConfig
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires routes over the control service. The hub is created
// by the caller so notification sinks can be attached before the rest
// of the process is wired.
func NewServer(cfg config.DashboardConfig, ctl *control.Service, hub *Hub, logger *slog.Logger) *Server {
	handlers := NewHandlers(ctl, cfg, hub, logger)

	// Read surface only: strategy writes go through the control
	// service, not HTTP.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /api/dashboard", handlers.HandleDashboard)
	mux.HandleFunc("GET /api/strategies", handlers.HandleListStrategies)
	mux.HandleFunc("GET /api/optimizations/{id}", handlers.HandleGetOptimization)
	mux.HandleFunc("GET /ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start serves until Stop. Blocks.
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Info("dashboard server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

// Stop drains connections gracefully.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
