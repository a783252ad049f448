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

// Package server runs the local authentication API: it wires the client
// stack from the configuration, serves it over HTTP and handles lifecycle
// and reload.
package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-konnektor/internal/config"
	"github.com/jeremyhahn/go-konnektor/internal/rest"
	"github.com/jeremyhahn/go-konnektor/pkg/adapters/logger"
	"github.com/jeremyhahn/go-konnektor/pkg/cardauth"
	"github.com/jeremyhahn/go-konnektor/pkg/metrics"
	"github.com/jeremyhahn/go-konnektor/pkg/ratelimit"
)

// ShutdownTimeout bounds a graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// Server is the long-running API process.
type Server struct {
	config     *config.Config
	mu         sync.RWMutex
	logger     logger.Logger
	version    string
	components *Components

	restServer *rest.Server
	limiter    *ratelimit.Limiter
	listener   net.Listener

	metricsCollector *metrics.ResourceCollector

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	shutdownCh chan struct{}
	once       sync.Once
}

// New creates a server for cfg. A nil log is built from cfg.Logging.
func New(cfg *config.Config, log logger.Logger) (*Server, error) {
	if log == nil {
		log = setupLogger(cfg.Logging)
	}
	for _, w := range cfg.Warnings {
		log.Warn("configuration warning", logger.String("warning", w))
	}

	components, err := Build(cfg, cardauth.Headless{}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	apiAuth, err := cfg.API.Auth.CreateAuthenticator()
	if err != nil {
		components.Close()
		return nil, fmt.Errorf("failed to initialize API authentication: %w", err)
	}
	tlsConfig, err := cfg.API.TLS.LoadTLSConfig()
	if err != nil {
		components.Close()
		return nil, fmt.Errorf("failed to load API TLS configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     cfg,
		logger:     log,
		version:    getBuildVersion(),
		components: components,
		limiter:    ratelimit.New(cfg.RateLimitConfig()),
		ctx:        ctx,
		cancel:     cancel,
		shutdownCh: make(chan struct{}),
	}

	metricsPath := ""
	if cfg.API.Metrics.Enabled {
		metricsPath = cfg.API.Metrics.Path
	}
	s.restServer, err = rest.NewServer(&rest.Config{
		Address:       cfg.APIAddress(),
		Version:       s.version,
		Context:       cfg.SOAPContext(),
		ChallengeURL:  cfg.ChallengeURL(),
		Authenticator: components.Queued,
		Connector:     components.Connector,
		IDP:           components.IDP,
		HealthChecker: components.Diagnostics.Checker(),
		Auth:          apiAuth,
		RateLimiter:   s.limiter,
		MetricsPath:   metricsPath,
		TLSConfig:     tlsConfig,
		Logger:        log,
	})
	if err != nil {
		cancel()
		s.limiter.Stop()
		components.Close()
		return nil, fmt.Errorf("failed to initialize API server: %w", err)
	}
	return s, nil
}

// setupLogger builds the process logger from the logging configuration.
func setupLogger(cfg config.LoggingConfig) logger.Logger {
	return logger.New(cfg.Level, cfg.Format, os.Stderr)
}

// getBuildVersion returns the VCS tag or short revision of the binary.
func getBuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.version" && setting.Value != "" && setting.Value != "devel" {
			return setting.Value
		}
		if setting.Key == "vcs.revision" {
			if len(setting.Value) >= 7 {
				return setting.Value[:7]
			}
			return setting.Value
		}
	}

	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// Start binds the API address and serves in the background.
func (s *Server) Start() error {
	s.logger.Info("Starting konnektor API server", logger.String("version", s.version))

	if s.config.API.Metrics.Enabled {
		metrics.Enable()
		s.metricsCollector = metrics.StartResourceCollector(s.ctx, 15*time.Second)
	} else {
		metrics.Disable()
	}

	ln, err := net.Listen("tcp", s.restServer.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.restServer.Address(), err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.startREST(ln)

	s.components.Diagnostics.Checker().MarkStarted()
	s.logger.Info("API server started", logger.String("address", ln.Addr().String()))
	return nil
}

func (s *Server) startREST(ln net.Listener) {
	defer s.wg.Done()
	if err := s.restServer.Serve(ln); err != nil {
		s.logger.Error("API server error", logger.Error(err))
	}
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Version returns the build version reported by the API.
func (s *Server) Version() string {
	return s.version
}

// Components returns the wired client stack.
func (s *Server) Components() *Components {
	return s.components
}

// Shutdown stops the API, waits for running requests and releases the
// components. It is safe to call more than once.
func (s *Server) Shutdown() error {
	var err error
	s.once.Do(func() {
		err = s.shutdown()
	})
	return err
}

func (s *Server) shutdown() error {
	s.logger.Info("Shutting down server...")
	s.components.Diagnostics.Checker().MarkNotStarted()

	if s.metricsCollector != nil {
		s.metricsCollector.Stop()
	}
	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	var stopErr error
	if s.listener != nil {
		if err := s.restServer.Stop(shutdownCtx); err != nil {
			stopErr = err
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.logger.Warn("Shutdown timeout exceeded, forcing stop")
	}

	s.limiter.Stop()
	s.components.Close()

	close(s.shutdownCh)
	s.logger.Info("Server shutdown complete")
	return stopErr
}

// WaitForShutdown blocks until Shutdown completed.
func (s *Server) WaitForShutdown() {
	<-s.shutdownCh
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		cancel()
	}()

	return ctx
}
