// Package gateway exposes the HTTP API: query submission, status polling,
// health, and metrics.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sportswire/sportswire/pkg/services"
)

const readHeaderTimeout = 10 * time.Second

// Probe reports whether one backing dependency answers.
type Probe func(ctx context.Context) error

// Server is the gateway HTTP server.
type Server struct {
	queries *services.QueryService
	probes  map[string]Probe
	engine  *gin.Engine
	httpSrv *http.Server
	logger  *slog.Logger
}

// NewServer wires the routes. probes are polled by GET /health; the key
// becomes the check name in the response body.
func NewServer(queries *services.QueryService, probes map[string]Probe) *Server {
	if queries == nil {
		panic("NewServer: queries must not be nil")
	}

	logger := slog.Default().With("component", "gateway")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(requestLogger(logger), telemetryMiddleware())

	s := &Server{
		queries: queries,
		probes:  probes,
		engine:  engine,
		logger:  logger,
	}

	engine.POST("/query", s.submitQueryHandler)
	engine.GET("/query/:id", s.queryStatusHandler)
	engine.GET("/health", s.healthHandler)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// NewOpsServer wires only the health and metrics routes. The poller and the
// workers run one beside their pipeline loop so orchestrator probes and
// Prometheus scrapes reach them too.
func NewOpsServer(probes map[string]Probe) *Server {
	logger := slog.Default().With("component", "ops")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		probes: probes,
		engine: engine,
		logger: logger,
	}

	engine.GET("/health", s.healthHandler)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Shutdown or a listener error. Blocking.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
