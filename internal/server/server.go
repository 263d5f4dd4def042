package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/plebmarket/mcpgate/internal/handler"
	"github.com/plebmarket/mcpgate/internal/market"
	"github.com/plebmarket/mcpgate/internal/mcp"
	"github.com/plebmarket/mcpgate/internal/metrics"
	"github.com/plebmarket/mcpgate/internal/ratelimit"
	"github.com/plebmarket/mcpgate/internal/server/middleware"
	"github.com/plebmarket/mcpgate/internal/service"
	"github.com/plebmarket/mcpgate/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	PublicURL       string
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes, REST bodies only; the gateway has its own cap
	APIRateLimit    int   // requests per minute per IP on /api, 0 disables
	MCPRateLimit    int   // requests per minute per bearer token on /mcp, 0 disables
	MetricsPath     string
	Version         string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     1 << 20, // 1MB
		APIRateLimit:    120,
		MCPRateLimit:    600,
		MetricsPath:     "/metrics",
		Version:         "dev",
	}
}

// Deps are the collaborators the server routes to. Store, Keys and Gateway
// are required.
type Deps struct {
	Store      *store.Store
	Keys       *service.KeyService
	Gate       *service.EventGate
	Onboard    ratelimit.Limiter
	Gateway    *mcp.Gateway
	Recorder   *metrics.Recorder
	Prometheus *metrics.Prometheus // optional; serves MetricsPath when set
	Market     *market.Client      // optional; adds marketplace stats to /status
}

// Server is the top-level HTTP server for the gateway. It owns the Chi
// router and drains the gateway, the key service and the store on shutdown.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Gate == nil {
		deps.Gate = service.NewEventGate(nil, false)
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NewRecorder()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "X-Requested-With",
			handler.NostrAuthHeader, middleware.SessionIDHeader, "Last-Event-ID", "Mcp-Protocol-Version",
		},
		ExposedHeaders:   []string{"X-Request-ID", middleware.SessionIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Health checks and descriptions (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.baseURL(), s.cfg.Version).ServeSpec)
	if s.deps.Prometheus != nil {
		r.Handle(s.cfg.MetricsPath, s.deps.Prometheus.Handler())
	}

	// --- REST API ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Compress(5))
		r.Use(middleware.RateLimit(s.cfg.APIRateLimit))
		r.Use(s.limitBody)

		keyHandler := handler.NewKeyHandler(s.deps.Keys, s.deps.Gate, s.logger)
		onboardHandler := handler.NewOnboardHandler(s.deps.Keys, s.deps.Onboard, s.mcpEndpoint(), s.logger)
		statusHandler := handler.NewStatusHandler(s.deps.Recorder, s.deps.Store, s.deps.Market,
			s.deps.Gateway.Registry().Len, s.cfg.Version, s.logger)

		// Key management
		r.Post("/keys", keyHandler.CreateKey)
		r.Get("/keys", keyHandler.ListKeys)
		r.Post("/keys/revoke", keyHandler.RevokeKey)
		r.With(middleware.RequireAPIKey(s.deps.Keys, s.logger)).Get("/keys/me", keyHandler.Me)
		r.Get("/auth/template", keyHandler.AuthTemplate)

		// Onboarding and status
		r.Post("/onboard", onboardHandler.Onboard)
		r.Get("/status", statusHandler.Status)
	})

	// --- MCP gateway (streamable HTTP; responses may be long-lived SSE) ---
	r.With(middleware.RateLimitByBearer(s.cfg.MCPRateLimit)).Handle("/mcp", s.deps.Gateway)

	s.router = r
}

// limitBody caps REST request bodies at MaxBodySize.
func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.MaxBodySize > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) baseURL() string {
	if s.cfg.PublicURL != "" {
		return s.cfg.PublicURL
	}
	host := s.cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, s.cfg.Port)
}

func (s *Server) mcpEndpoint() string {
	return s.baseURL() + "/mcp"
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the key store answers a
// ping and its schema is in place, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := s.deps.Store.Ping(ctx); err != nil {
		checks["database"] = "error: " + err.Error()
		status = "degraded"
	} else if err := s.deps.Store.InitializeSchema(ctx); err != nil {
		checks["database"] = "error: " + err.Error()
		status = "degraded"
	} else {
		checks["database"] = "ok"
	}

	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   status,
		"checks":   checks,
		"sessions": s.deps.Gateway.Registry().Len(),
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is cancelled, then closes every MCP session, drains
// in-flight requests and pending key touches, and closes the store.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // SSE streams on /mcp stay open indefinitely
		IdleTimeout:       120 * time.Second,
	}

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr, "mcp_endpoint", s.mcpEndpoint())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	// Sessions go first so open event streams end and the listener can drain.
	s.deps.Gateway.Close(shutdownCtx)

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown incomplete, closing remaining connections", "error", err)
		s.httpServer.Close()
	}

	s.deps.Keys.Wait()
	if err := s.deps.Store.Close(); err != nil {
		s.logger.Warn("closing store failed", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
