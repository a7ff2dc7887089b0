// Package rest provides the live control API of a running load test.
package rest

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"yqhp/load-engine/pkg/logger"
)

// Server represents the REST API server.
type Server struct {
	app      *fiber.App
	config   *Config
	registry *prometheus.Registry
}

// Config holds the configuration for the REST API server.
type Config struct {
	// Address is the address to listen on (e.g., ":6565").
	Address string `yaml:"address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing.
	EnableCORS bool `yaml:"enable_cors"`

	// EnableMetrics enables the Prometheus /metrics endpoint.
	EnableMetrics bool `yaml:"enable_metrics"`

	// AccessLog enables the request log middleware.
	AccessLog bool `yaml:"access_log"`
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:       "localhost:6565",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		EnableCORS:    true,
		EnableMetrics: true,
	}
}

// NewServer creates a new REST API server.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		ErrorHandler:          customErrorHandler,
		AppName:               "Load Engine API",
		DisableStartupMessage: true,
	})

	server := &Server{
		app:      app,
		config:   config,
		registry: prometheus.NewRegistry(),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))

	if s.config.AccessLog {
		s.app.Use(fiberlogger.New(fiberlogger.Config{
			Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
			TimeFormat: "2006-01-02 15:04:05",
		}))
	}

	if s.config.EnableCORS {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: "*",
			AllowMethods: "GET,POST,PATCH,OPTIONS",
			AllowHeaders: "Origin,Content-Type,Accept",
			MaxAge:       86400,
		}))
	}
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthCheck)

	v1 := s.app.Group("/v1")

	// Routes without a run ID act on the only active run, or on ?run_id=.
	v1.Get("/runs", s.listRuns)
	v1.Get("/status", s.getStatus)
	v1.Patch("/status", s.patchStatus)
	v1.Post("/stop", s.stopRun)
	v1.Get("/metrics", s.getMetrics)
	v1.Get("/timeseries", s.getTimeSeries)

	runs := v1.Group("/runs/:id")
	runs.Get("/status", s.getStatus)
	runs.Patch("/status", s.patchStatus)
	runs.Post("/stop", s.stopRun)
	runs.Get("/metrics", s.getMetrics)
	runs.Get("/timeseries", s.getTimeSeries)

	if s.config.EnableMetrics {
		s.registry.MustRegister(
			NewRunCollector(),
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(
			s.registry,
			promhttp.HandlerOpts{DisableCompression: true},
		)))
	}
}

// Start starts the REST API server.
func (s *Server) Start() error {
	return s.app.Listen(s.config.Address)
}

// StartWithContext serves until ctx is done, then shuts the server down.
func (s *Server) StartWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		logger.Info("control API listening", "address", s.config.Address)
		errCh <- s.app.Listen(s.config.Address)
	}()

	select {
	case <-ctx.Done():
		return s.ShutdownWithTimeout(5 * time.Second)
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// ShutdownWithTimeout gracefully shuts down the server with a timeout.
func (s *Server) ShutdownWithTimeout(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Registry returns the Prometheus registry served on /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// customErrorHandler handles errors returned by handlers.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: message,
	})
}
