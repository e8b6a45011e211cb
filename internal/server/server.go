// Package server wires the HTTP surface: the per-server bridge endpoints,
// the informational descriptors, and the management API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	v1 "github.com/gosuda/mcpbridge/internal/api/v1"
	"github.com/gosuda/mcpbridge/internal/bridge"
	"github.com/gosuda/mcpbridge/internal/config"
	"github.com/gosuda/mcpbridge/internal/server/middleware"
)

// Server is the HTTP server exposing every registered bridge.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	registry   *bridge.Registry
	cfg        *config.Config
}

// New creates a Server with all routes wired. ctx bounds background work
// started by middleware (rate limiter cleanup).
func New(ctx context.Context, cfg *config.Config, registry *bridge.Registry) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router:   router,
		registry: registry,
		cfg:      cfg,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	// Bridge endpoints: per the MCP streamable HTTP convention, messages
	// are POSTed to the server's base path and GET returns a descriptor.
	router.Route("/servers/{name}", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(ctx, cfg.Bridge.RatePerSecond, cfg.Bridge.RateBurst))
		r.Get("/", s.handleDescriptor)
		r.Post("/", s.handleRPC)
	})

	// Management API.
	router.Route("/api/v1", func(r chi.Router) {
		apiConfig := huma.DefaultConfig("MCP Bridge API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		v1.RegisterServerRoutes(api, registry)
	})

	// Health check.
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return s
}

// Handler returns the router, for tests driving the server in-process.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
