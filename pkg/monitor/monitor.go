// Package monitor exposes a small HTTP endpoint for watching a running
// experiment: a health probe and a JSON snapshot of training progress.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/ordino/pkg/config"
	"github.com/soundprediction/ordino/pkg/learner"
)

// Build information - can be set at build time using ldflags
var Version = "dev"

// ProgressSource hands out a snapshot of the run being watched.
// *learner.Learner satisfies it.
type ProgressSource interface {
	Progress() learner.Progress
}

// Server represents the HTTP monitor server
type Server struct {
	config *config.Config
	source ProgressSource
	logger *slog.Logger
	router *gin.Engine
	server *http.Server
}

// New creates a new monitor server instance
func New(cfg *config.Config, source ProgressSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config: cfg,
		source: source,
		logger: logger,
	}
}

// Setup sets up the server routes and middleware
func (s *Server) Setup() {
	// Set gin mode
	gin.SetMode(s.config.Monitor.Mode)

	// Create router
	s.router = gin.New()

	// Add middleware
	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware())

	// Setup routes
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/progress", s.progress)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", s.config.Monitor.Host, s.config.Monitor.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
}

// healthCheck handles GET /health - basic liveness check
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "ordino",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

// progress handles GET /progress - snapshot of the attached run
func (s *Server) progress(c *gin.Context) {
	if s.source == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "no training run attached",
		})
		return
	}
	c.JSON(http.StatusOK, s.source.Progress())
}

// Start starts the server
func (s *Server) Start() error {
	s.logger.Info("monitor listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop stops the server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("monitor stopping")
	return s.server.Shutdown(ctx)
}

// corsMiddleware adds CORS headers so browser dashboards can poll the
// endpoint from another origin
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Accept, Cache-Control")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
