// Package server provides the HTTP server for the relay service.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hivemesh/relay/internal/authz"
	"github.com/hivemesh/relay/internal/config"
	"github.com/hivemesh/relay/internal/handler"
	"github.com/hivemesh/relay/internal/health"
	"github.com/hivemesh/relay/internal/heartbeat"
	"github.com/hivemesh/relay/internal/hub"
	"github.com/hivemesh/relay/internal/metrics"
	"github.com/hivemesh/relay/internal/middleware"
	"github.com/hivemesh/relay/internal/store"
)

// Deps collects the components the HTTP surface is built on
type Deps struct {
	Hub             *hub.Hub
	Engine          *authz.Engine
	Monitor         *heartbeat.Monitor
	MessageLog      store.MessageLog
	PermissionStore store.PermissionStore
	Cache           store.DecisionCache
	Metrics         *metrics.Metrics
}

// Server represents the HTTP server
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	streams    *handler.StreamHandler
	heartbeats *handler.HeartbeatHandler
	decisions  *handler.DecisionHandler
	health     *health.HealthChecker
	logger     *zap.Logger
	cfg        *config.Config
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	router := mux.NewRouter()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		router:     router,
		httpServer: httpServer,
		streams:    handler.NewStreamHandler(deps.Hub, deps.Engine, deps.MessageLog, logger),
		heartbeats: handler.NewHeartbeatHandler(deps.Monitor, deps.Metrics, logger),
		decisions:  handler.NewDecisionHandler(deps.Engine, deps.Metrics, logger),
		health:     health.NewHealthChecker(deps.MessageLog, deps.PermissionStore, deps.Cache, logger),
		logger:     logger,
		cfg:        cfg,
	}
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() {
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
	}

	if s.cfg.RateLimiter.Enabled {
		rateLimiter := middleware.NewRateLimiter(
			s.cfg.RateLimiter.RequestsPerSecond,
			s.cfg.RateLimiter.BurstSize,
			s.logger,
		)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}

	chain := middleware.Chain(middlewareChain...)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	// Health check endpoints
	s.router.HandleFunc("/health/live", s.health.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.health.ReadinessHandler).Methods(http.MethodGet)

	// API v1 routes
	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Stream admission, publishing, and history
	v1.HandleFunc("/tenants/{tenant_id}/stream", s.streams.Stream).Methods(http.MethodGet)
	v1.HandleFunc("/tenants/{tenant_id}/messages", s.streams.Publish).Methods(http.MethodPost)
	v1.HandleFunc("/tenants/{tenant_id}/messages", s.streams.History).Methods(http.MethodGet)
	v1.HandleFunc("/connections/{connection_id}", s.streams.Disconnect).Methods(http.MethodDelete)

	// Heartbeats and liveness
	v1.HandleFunc("/heartbeats", s.heartbeats.Ingest).Methods(http.MethodPost)
	v1.HandleFunc("/peers", s.heartbeats.ListPeers).Methods(http.MethodGet)
	v1.HandleFunc("/peers/{peer_id}", s.heartbeats.GetPeer).Methods(http.MethodGet)
	v1.HandleFunc("/peers/{peer_id}", s.heartbeats.ForgetPeer).Methods(http.MethodDelete)

	// Authorization decisions
	v1.HandleFunc("/authz/decision", s.decisions.Decide).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":"error","error_code":"NOT_FOUND","message":"endpoint not found"}`))
	})

	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"status":"error","error_code":"INVALID_ARGUMENT","message":"method not allowed"}`))
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.String("host", s.cfg.Server.Host),
		zap.Int("port", s.cfg.Server.Port),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}
