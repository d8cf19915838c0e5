// Package server exposes a small operational HTTP API: health, execution
// history, session metrics, risk state and the manual risk reset. It is
// read-only apart from the reset and is intended for operators, not for
// order flow.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/polyarb/polyarb/internal/server/handler"
	"github.com/polyarb/polyarb/internal/server/middleware"
)

// Config holds the HTTP server settings.
type Config struct {
	Port   int
	APIKey string // empty disables authentication
}

// Handlers aggregates the handlers the server registers.
type Handlers struct {
	Health        *handler.HealthHandler
	Executions    *handler.ExecutionsHandler
	Risk          *handler.RiskHandler
	Opportunities *handler.OpportunitiesHandler
}

// Server is the operational HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes registered.
func New(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Liveness is always unauthenticated so load balancers can probe it.
	mux.HandleFunc("GET /api/health", handlers.Health.Health)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/executions", handlers.Executions.ListExecutions)
	api.HandleFunc("GET /api/ledger", handlers.Executions.RecentLedger)
	api.HandleFunc("GET /api/metrics", handlers.Executions.Metrics)
	api.HandleFunc("GET /api/audit", handlers.Executions.ListAudit)
	api.HandleFunc("GET /api/risk", handlers.Risk.GetRisk)
	api.HandleFunc("POST /api/risk/reset", handlers.Risk.ResetRisk)
	api.HandleFunc("GET /api/positions", handlers.Risk.GetPositions)
	api.HandleFunc("GET /api/opportunities", handlers.Opportunities.ListOpportunities)
	mux.Handle("/api/", middleware.Auth(cfg.APIKey)(api))

	h := middleware.Logging(logger)(mux)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start listens for requests and blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("server: listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
