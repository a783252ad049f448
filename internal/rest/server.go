// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-konnektor.
//
// go-konnektor is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jeremyhahn/go-konnektor/pkg/adapters/auth"
	"github.com/jeremyhahn/go-konnektor/pkg/adapters/logger"
	"github.com/jeremyhahn/go-konnektor/pkg/metrics"
	"github.com/jeremyhahn/go-konnektor/pkg/ratelimit"
	"github.com/jeremyhahn/go-konnektor/pkg/soap"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultAddress is the listen address of the local API.
const DefaultAddress = "127.0.0.1:39339"

// Server represents the REST API server.
type Server struct {
	server        *http.Server
	handlers      *HandlerContext
	address       string
	tlsConfig     *tls.Config
	authenticator auth.Authenticator
	limiter       *ratelimit.Limiter
	metricsPath   string
	logger        logger.Logger
}

// Config holds the REST server configuration.
type Config struct {
	// Address is the listen address (default: 127.0.0.1:39339)
	Address string

	// Version is reported by /version and the health endpoints
	Version string

	// Context is the connector context used to list terminals and cards
	Context soap.Context

	// ChallengeURL is used when a request carries neither challenge nor
	// challenge_url (optional)
	ChallengeURL string

	// Authenticator signs challenges with inserted cards
	Authenticator Authenticator

	// Connector lists terminals and cards
	Connector Connector

	// IDP fetches challenges and submits signed ones (optional)
	IDP IDPClient

	// HealthChecker runs the function tests (optional)
	HealthChecker HealthChecker

	// Auth authenticates API callers (optional, defaults to NoOp)
	Auth auth.Authenticator

	// RateLimiter throttles callers (optional)
	RateLimiter *ratelimit.Limiter

	// MetricsPath serves Prometheus metrics when set
	MetricsPath string

	// TLSConfig is the TLS configuration for HTTPS (optional)
	TLSConfig *tls.Config

	// Logger is the logging adapter (optional)
	Logger logger.Logger

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// WriteTimeout bounds writing a response. Authentication waits for the
	// PIN entry at the terminal, so the default is generous.
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if cfg.Connector == nil {
		return nil, fmt.Errorf("connector is required")
	}

	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Minute
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	authenticator := cfg.Auth
	if authenticator == nil {
		authenticator = auth.NewNoOpAuthenticator()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.String("component", "rest"))

	s := &Server{
		handlers: &HandlerContext{
			Version:       cfg.Version,
			Context:       cfg.Context,
			ChallengeURL:  cfg.ChallengeURL,
			Authenticator: cfg.Authenticator,
			Connector:     cfg.Connector,
			IDP:           cfg.IDP,
			HealthChecker: cfg.HealthChecker,
			logger:        log,
		},
		address:       cfg.Address,
		tlsConfig:     cfg.TLSConfig,
		authenticator: authenticator,
		limiter:       cfg.RateLimiter,
		metricsPath:   cfg.MetricsPath,
		logger:        log,
	}

	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.setupRouter(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		TLSConfig:         cfg.TLSConfig,
	}
	return s, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.RecoveryMiddleware())
	r.Use(s.CorrelationMiddleware())
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware)

	r.Get("/version", s.handlers.VersionHandler)
	r.Get("/health/live", s.handlers.LivenessHandler)
	r.Get("/health/ready", s.handlers.ReadinessHandler)
	if s.metricsPath != "" {
		r.Handle(s.metricsPath, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.RateLimitMiddleware())
		}
		r.Use(s.AuthenticationMiddleware())

		r.Post("/authenticate", s.handlers.AuthenticateHandler)
		r.Get("/terminals", s.handlers.TerminalsHandler)
		r.Get("/cards", s.handlers.CardsHandler)
		r.Get("/sessions", s.handlers.SessionsHandler)
		r.Delete("/sessions/{cardType}", s.handlers.LogoutHandler)
	})

	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens and serves until Stop. It returns nil after a clean stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting API server",
		logger.String("address", ln.Addr().String()),
		logger.Bool("tls", s.tlsConfig != nil),
		logger.String("auth", s.authenticator.Name()))

	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully stops the REST API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down API server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown server", logger.Error(err))
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("API server stopped")
	return nil
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.address
}
