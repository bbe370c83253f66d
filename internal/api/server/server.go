package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fractionalev/ownership-ledger/internal/api/graphql"
	"github.com/fractionalev/ownership-ledger/internal/api/middleware"
	"github.com/fractionalev/ownership-ledger/internal/api/rest"
	"github.com/fractionalev/ownership-ledger/internal/api/shared/executor"
	"github.com/fractionalev/ownership-ledger/internal/logger"
)

// Config holds the server configuration
type Config struct {
	Debug        bool
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Auth         middleware.AuthConfig
	// CORSOrigins restricts browser origins; empty allows all
	CORSOrigins []string
}

// Server wraps the HTTP server
type Server struct {
	config     Config
	executor   executor.Executor
	httpServer *http.Server
}

// New creates a new API server
func New(cfg Config, exec executor.Executor) *Server {
	return &Server{
		config:   cfg,
		executor: exec,
	}
}

// NewRouter builds the gin engine with middleware, REST and GraphQL routes and the metrics endpoint
func NewRouter(cfg Config, exec executor.Executor) (*gin.Engine, error) {
	// Set Gin mode based on debug flag
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Setup middleware
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics())
	router.Use(middleware.SetupCORS(cfg.CORSOrigins))

	restHandler := rest.NewHandler(cfg.Debug, exec)
	rest.SetupRoutes(router, restHandler, cfg.Auth)

	// Create GraphQL handler (queries only)
	graphqlHandler, err := graphql.NewHandler(cfg.Debug, exec)
	if err != nil {
		return nil, fmt.Errorf("failed to create GraphQL handler: %w", err)
	}
	graphql.SetupRoutes(router, graphqlHandler)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router, nil
}

// Start initializes and starts the HTTP server
func (s *Server) Start() error {
	router, err := NewRouter(s.config, s.executor)
	if err != nil {
		return err
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	logger.Info("Starting API server",
		zap.String("address", addr),
	)

	// Start server
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down API server")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	return nil
}
