// Package api exposes the matching pipeline and stored results over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/trial-match-server/internal/domain"
	"github.com/trial-match-server/internal/middleware"
	"github.com/trial-match-server/internal/service"
	"github.com/trial-match-server/internal/storage"
)

// TrialFetcher retrieves trial records from an external registry.
type TrialFetcher interface {
	GetTrial(ctx context.Context, trialID string) (*domain.TrialRecord, error)
	SearchTrials(ctx context.Context, condition string, limit int) ([]domain.TrialRecord, error)
}

// HealthChecker reports backing-database health for the /health endpoint.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	config   *domain.Config
	logger   *logrus.Logger
	matcher  *service.MatchService
	store    storage.Store
	registry TrialFetcher
	health   HealthChecker
	router   *gin.Engine
	server   *http.Server
}

// NewServer creates a new HTTP server instance. The registry fetcher is
// optional; without it the trial lookup endpoints report unavailable.
func NewServer(config *domain.Config, logger *logrus.Logger, matcher *service.MatchService, store storage.Store, registry TrialFetcher) *Server {
	// Set Gin mode based on log level
	if config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))

	server := &Server{
		config:   config,
		logger:   logger,
		matcher:  matcher,
		store:    store,
		registry: registry,
		router:   router,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Start starts the HTTP server and blocks until the context is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetHealthChecker attaches an optional database health check to the
// /health endpoint.
func (s *Server) SetHealthChecker(h HealthChecker) {
	s.health = h
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/match", s.handleMatch)
		v1.GET("/history", s.handleHistory)
		v1.GET("/results/:id", s.handleResults)
		v1.GET("/stats", s.handleStats)
		v1.GET("/trials/:id", s.handleGetTrial)
		v1.GET("/trials", s.handleSearchTrials)
	}
}
