// Package server exposes the relay over HTTP: action ingestion, direct
// event pushes, session queries and the operational endpoints.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/commercekit/relay/internal/bus"
	"github.com/commercekit/relay/internal/pipeline"
	"github.com/commercekit/relay/internal/storage"
)

// Pinger reports backend connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the gin engine over the pipeline.
type Server struct {
	Engine *gin.Engine
	Addr   string

	manager *pipeline.Manager
	bus     *bus.Bus
	archive storage.Archive
	backend Pinger

	maxBodyBytes int64
}

// Options carries the optional collaborators.
type Options struct {
	// Archive, when set, backs the session event listing instead of the
	// in-memory log.
	Archive storage.Archive

	// Backend, when set, is pinged by the health endpoint.
	Backend Pinger

	MaxBodySizeMB int
}

// New builds the server and registers all routes.
func New(addr, mode string, manager *pipeline.Manager, b *bus.Bus, opts Options) *Server {
	if mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if opts.MaxBodySizeMB <= 0 {
		opts.MaxBodySizeMB = 1
	}

	r := gin.Default()

	s := &Server{
		Engine:       r,
		Addr:         addr,
		manager:      manager,
		bus:          b,
		archive:      opts.Archive,
		backend:      opts.Backend,
		maxBodyBytes: int64(opts.MaxBodySizeMB) * 1024 * 1024,
	}

	r.GET("/health", s.healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/v1")
	{
		api.POST("/actions", s.actionHandler)
		api.POST("/events", s.eventHandler)
		api.GET("/sessions/:session_id/events", s.sessionEventsHandler)
		api.GET("/sessions/:session_id/pending", s.pendingHandler)
		api.POST("/debug", s.debugHandler)
		api.POST("/providers/:name", s.providerToggleHandler)
	}

	return s
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.backend != nil {
		if err := s.backend.Ping(ctx); err != nil {
			slog.Error("Health check failed: backend unreachable", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "backend unreachable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.Addr,
		Handler: s.Engine,
	}

	slog.Info("Starting HTTP Server...", "address", s.Addr)

	go func() {
		<-ctx.Done()
		slog.Info("Stopping HTTP Server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP Server forced to shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
