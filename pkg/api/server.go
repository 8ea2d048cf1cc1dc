// Package api exposes the workorder and network order services over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/rs/zerolog"

	"github.com/openfroyo/workorders/pkg/engine"
	"github.com/openfroyo/workorders/pkg/inventory"
	"github.com/openfroyo/workorders/pkg/telemetry"
)

// Config configures the HTTP server.
type Config struct {
	ListenAddress   string
	CORSOrigins     []string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	Version         string
	Debug           bool
}

// HealthChecker reports whether the record store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the collaborators the handlers call into. Catalog and Telemetry
// may be nil.
type Deps struct {
	WorkOrders    *engine.WorkOrderService
	NetworkOrders *engine.NetworkOrderService
	Catalog       *inventory.Catalog
	Store         HealthChecker
	Telemetry     *telemetry.Telemetry
	Logger        zerolog.Logger
}

// Server is the HTTP front end of the service.
type Server struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger
	router *gin.Engine
	health healthcheck.Handler
	server *http.Server
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8000"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if deps.Catalog == nil {
		deps.Catalog = inventory.NewCatalog(deps.Logger)
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With().Str("component", "api").Logger(),
	}
	s.health = s.newHealth()
	s.router = s.routes()
	return s
}

func (s *Server) newHealth() healthcheck.Handler {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10*runtime.NumCPU()+1000))
	if s.deps.Store != nil {
		h.AddReadinessCheck("database", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return s.deps.Store.HealthCheck(ctx)
		})
	}
	return h
}

func (s *Server) routes() *gin.Engine {
	if s.cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestID())
	r.Use(s.requestLogger())
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(s.cors())
	}
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	if s.deps.Telemetry != nil {
		r.Use(s.instrument())
	}
	r.Use(s.actor())

	r.GET("/health/live", gin.WrapF(s.health.LiveEndpoint))
	r.GET("/health/ready", gin.WrapF(s.health.ReadyEndpoint))
	r.GET("/version", s.version)
	if s.deps.Telemetry != nil && s.deps.Telemetry.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Telemetry.Metrics.Handler()))
	}

	if s.deps.WorkOrders != nil {
		s.workOrderRoutes(r.Group("/workorders"))
	}
	if s.deps.NetworkOrders != nil {
		s.networkOrderRoutes(r.Group("/network-orders"))
		s.networkOrderRoutes(r.Group("/vni-workorders"))
	}
	return r
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until Stop is called. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      s.cfg.RequestTimeout,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info().
		Str("address", s.cfg.ListenAddress).
		Strs("cors_origins", s.cfg.CORSOrigins).
		Msg("starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests, waiting at most the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info().Msg("stopping HTTP server")

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "workorderd",
		"version": s.cfg.Version,
	})
}
