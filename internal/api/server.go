// Package api exposes read-only status endpoints for external
// dashboards: engine state, risk summary, recent signals, and reasoning
// store statistics. The API never mutates engine state.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tradewind-ai/tradewind/internal/engine"
	"github.com/tradewind-ai/tradewind/internal/metrics"
)

// EngineStatus provides the engine snapshot
type EngineStatus interface {
	Status() map[string]any
}

// RiskSummary provides the risk governor snapshot
type RiskSummary interface {
	Summary() map[string]any
}

// SignalSource provides recent signal records
type SignalSource interface {
	Recent(n int) []engine.SignalRecord
}

// MemoryStats provides reasoning store statistics
type MemoryStats interface {
	GetStats(ctx context.Context) (map[string]any, error)
}

// Config contains server configuration. Signals and Memory may be nil;
// their endpoints then return empty results.
type Config struct {
	Host    string
	Port    int
	Engine  EngineStatus
	Risk    RiskSummary
	Signals SignalSource
	Memory  MemoryStats
}

// Server is the read-only status API
type Server struct {
	router *gin.Engine
	cfg    Config
	addr   string
	server *http.Server
}

// NewServer creates the API server
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware())
	router.Use(metrics.GinMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s := &Server{
		router: router,
		cfg:    cfg,
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/risk", s.handleRisk)
	s.router.GET("/signals/recent", s.handleRecentSignals)
	s.router.GET("/memory/stats", s.handleMemoryStats)
}

// Start serves until Stop; it blocks
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting status API")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start status API: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Info().Msg("Stopping status API")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop status API: %w", err)
	}
	return nil
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler {
	return s.router
}

func loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("API request")
	}
}
