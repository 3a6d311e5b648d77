// Package server exposes the request ledger over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/apollonlabs/zkoracle/internal/domain"
	"github.com/apollonlabs/zkoracle/internal/server/handler"
	"github.com/apollonlabs/zkoracle/internal/server/middleware"
	"github.com/apollonlabs/zkoracle/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, static-key authentication is disabled

	// SignatureMaxSkew bounds how far a signed request's timestamp may drift
	// from server time before it is rejected.
	SignatureMaxSkew time.Duration

	// RateLimit caps per-client requests per RateLimitWindow. Zero disables
	// rate limiting.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Config   *handler.ConfigHandler
	Requests *handler.RequestHandler
	Solvers  *handler.SolverHandler
	Balances *handler.BalanceHandler

	// Archive is nil when blob storage is not configured; its routes are
	// then not registered.
	Archive *handler.ArchiveHandler
}

// Server is the headless HTTP + WebSocket API server for the oracle ledger.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, caller identity, rate
// limiting) and attaches the WebSocket hub. limiter may be nil when rate
// limiting is disabled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/config", handlers.Config.GetConfig)

	// Request ledger endpoints.
	mux.HandleFunc("POST /api/requests", handlers.Requests.CreateRequest)
	mux.HandleFunc("GET /api/requests", handlers.Requests.ListRequests)
	mux.HandleFunc("GET /api/requests/pending", handlers.Requests.ListPending)
	mux.HandleFunc("GET /api/requests/{id}", handlers.Requests.GetRequest)
	mux.HandleFunc("DELETE /api/requests/{id}", handlers.Requests.CancelRequest)
	mux.HandleFunc("POST /api/requests/{id}/fulfill", handlers.Requests.FulfillRequest)

	// Trusted-solver administration endpoints.
	mux.HandleFunc("GET /api/solvers", handlers.Solvers.ListSolvers)
	mux.HandleFunc("POST /api/solvers", handlers.Solvers.AddSolver)
	mux.HandleFunc("DELETE /api/solvers/{account}", handlers.Solvers.RemoveSolver)

	// Escrow balance endpoints.
	mux.HandleFunc("GET /api/balances/{account}", handlers.Balances.GetBalance)
	mux.HandleFunc("POST /api/balances/deposit", handlers.Balances.Deposit)

	// Audit archive endpoints (only when blob storage is wired).
	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archive", handlers.Archive.ListObjects)
		mux.HandleFunc("GET /api/archive/{key...}", handlers.Archive.GetObject)
		mux.HandleFunc("DELETE /api/archive/{key...}", handlers.Archive.DeleteObject)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain. Identity runs innermost so every handler
	// sees the recovered caller; rate limiting runs outermost so rejected
	// traffic does no signature work.
	var h http.Handler = mux

	maxSkew := cfg.SignatureMaxSkew
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	h = middleware.Identity(maxSkew)(h)

	h = middleware.Auth(cfg.APIKey)(h)

	h = middleware.Logging(logger)(h)

	h = middleware.CORS(cfg.CORSOrigins)(h)

	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
