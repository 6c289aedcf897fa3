package api

import (
	"context"
	"example.com/backstage/services/orderbot/config"
	"example.com/backstage/services/orderbot/internal/metrics"
	"example.com/backstage/services/orderbot/internal/tracing"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Handlers are the route groups served by the API
type Handlers struct {
	Webhook *WebhookHandler
	Admin   *AdminHandler
	Orders  *OrderHandler
}

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
	tracer     tracing.Tracer
	metrics    *metrics.Metrics
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, handlers Handlers, tracer tracing.Tracer, collector *metrics.Metrics) *Server {
	if tracer == nil {
		tracer = tracing.Noop()
	}
	server := &Server{
		config:  cfg,
		tracer:  tracer,
		metrics: collector,
	}

	server.router = server.setupRouter(handlers)
	server.httpServer = &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           server.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter(handlers Handlers) *gin.Engine {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(Logger())

	if app := s.tracer.Application(); app != nil {
		router.Use(nrgin.Middleware(app))
	}
	if s.metrics != nil {
		router.Use(Metrics(s.metrics))
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	if handlers.Webhook != nil {
		handlers.Webhook.RegisterRoutes(router)
	}
	if handlers.Admin != nil {
		handlers.Admin.RegisterRoutes(router)
	}
	if handlers.Orders != nil {
		handlers.Orders.RegisterRoutes(router)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

// Router exposes the configured engine
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
