package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/updownlabs/updown/internal/domain"
	"github.com/updownlabs/updown/internal/server/handler"
	"github.com/updownlabs/updown/internal/server/middleware"
	"github.com/updownlabs/updown/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Optional per-IP rate limiting; disabled when RateLimiter is nil.
	RateLimiter     domain.RateLimiter
	RateLimitPerMin int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Trades  *handler.TradeHandler
	Admin   *handler.AdminHandler
	Events  *handler.EventHandler
}

// Server is the HTTP + WebSocket API for the settlement engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check and engine parameters.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/config", handlers.Markets.GetConfig)

	// Market registry.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)

	// Staking and settlement.
	mux.HandleFunc("POST /api/markets/{id}/stakes", handlers.Trades.PlaceStake)
	mux.HandleFunc("POST /api/markets/{id}/claims", handlers.Trades.Claim)
	mux.HandleFunc("GET /api/markets/{id}/positions/{address}", handlers.Trades.GetPosition)

	// Resolution and commissions. The engine enforces the owner and creator
	// authority checks on top of the server-level API key.
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Admin.Resolve)
	mux.HandleFunc("POST /api/markets/{id}/commissions", handlers.Admin.WithdrawCreator)
	mux.HandleFunc("GET /api/commissions/platform", handlers.Admin.GetPlatformCommission)
	mux.HandleFunc("POST /api/commissions/platform", handlers.Admin.WithdrawPlatform)

	// Event journal.
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-IP rate limiting when a limiter is configured.
	if cfg.RateLimiter != nil && cfg.RateLimitPerMin > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimitPerMin, time.Minute)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

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
