package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"clearpath-hq/gatekeeper/pkg/authz"
	"clearpath-hq/gatekeeper/pkg/config"
	"clearpath-hq/gatekeeper/pkg/events"
	"clearpath-hq/gatekeeper/pkg/rule/store"
	"clearpath-hq/gatekeeper/pkg/telemetry/health"
)

// Dependencies are the daemon components the control API exposes.
type Dependencies struct {
	// Controller is the authorization engine entry point, for the
	// enforcement shim's authorize calls.
	Controller *authz.Controller

	// Tracker handles process-lifecycle notifications for compiler
	// tracking. Nil when transitive allow is disabled.
	Tracker *authz.Tracker

	// Cache is the decision cache, for check and flush.
	Cache *authz.Cache

	// Rules is the rule store, for the rule operations.
	Rules store.Store

	// Events is the decision event store. Nil when event recording is
	// disabled.
	Events *events.Store

	// Checker backs the liveness and readiness endpoints.
	Checker *health.Checker

	// Metrics is the prometheus scrape handler. Nil disables /metrics.
	Metrics http.Handler

	// Snapshot returns the current engine configuration.
	Snapshot func() authz.Config

	// WatchMode reports whether configuration hot-reload is active.
	WatchMode bool

	// Version identifies the daemon build.
	Version string

	Logger *slog.Logger
}

// Server is the local control API server.
type Server struct {
	config config.ControlConfig
	deps   Dependencies
	logger *slog.Logger

	httpServer   *http.Server
	startedAt    time.Time
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// NewServer creates a control server. It does not bind until Start.
func NewServer(cfg config.ControlConfig, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config: cfg,
		deps:   deps,
		logger: logger.With("component", "control"),
	}
}

// Start binds the listen address and serves until the context is cancelled
// or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("control server is already running")
	}
	s.isRunning = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting control server", "address", s.config.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("control server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, stopping control server")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during control server shutdown", "error", err)
				shutdownErr = fmt.Errorf("control server shutdown error: %w", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("control server stopped")
	})

	return shutdownErr
}

// IsRunning returns true while the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured route handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/authorize", s.handleAuthorize)
	mux.HandleFunc("/v1/process/exit", s.handleProcessExit)
	mux.HandleFunc("/v1/file/created", s.handleFileCreated)
	mux.HandleFunc("/v1/cache/check", s.handleCacheCheck)
	mux.HandleFunc("/v1/cache/flush", s.handleCacheFlush)
	mux.HandleFunc("/v1/rules", s.handleAddRules)
	mux.HandleFunc("/v1/rules/lookup", s.handleLookup)
	mux.HandleFunc("/v1/rules/counts", s.handleCounts)
	mux.HandleFunc("/v1/rules/export", s.handleExport)
	mux.HandleFunc("/v1/rules/import", s.handleImport)
	mux.HandleFunc("/v1/status", s.handleStatus)

	if s.deps.Checker != nil {
		mux.HandleFunc("/healthz", s.deps.Checker.LivenessHandler())
		mux.HandleFunc("/readyz", s.deps.Checker.ReadinessHandler())
	}
	if s.deps.Metrics != nil {
		mux.Handle("/metrics", s.deps.Metrics)
	}

	return s.logRequests(mux)
}

// logRequests logs every control request at debug level. The control API is
// low traffic and privileged, so the full picture is cheap and useful.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("control request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}
