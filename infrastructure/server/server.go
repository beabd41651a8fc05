// Package server exposes review batches over HTTP with gin.
//
// Batches are uploaded as raw CSV or JSON-mode text and addressed afterwards
// by their storage key. Decisions recorded through the API go through the
// same Session operations as the terminal UI, so both surfaces share one
// persisted snapshot per batch.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ahrav/go-arbiter/internal/application"
	"github.com/ahrav/go-arbiter/internal/ports"
)

// ServiceName identifies the API in traces.
const ServiceName = "arbiter-api"

// Defaults applied to zero Config fields.
const (
	DefaultAddr         = "127.0.0.1:8080"
	DefaultReadTimeout  = 30 * time.Second
	DefaultMaxBodyBytes = 32 << 20
	DefaultMetricsPath  = "/metrics"
)

// Config configures the HTTP server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	MaxBodyBytes int64
	// MetricsPath is where MetricsHandler is mounted. Ignored when no
	// handler is set.
	MetricsPath string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records request counts and latency on m.
func WithMetrics(m ports.MetricsCollector) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler mounts h at Config.MetricsPath, typically
// PrometheusMetrics.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithTracerProvider instruments every route with otelgin.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) { s.tracerProvider = tp }
}

// Server routes HTTP requests to the ingest service and review sessions.
type Server struct {
	cfg      Config
	ingest   *application.IngestService
	sessions *application.Sessions
	validate *validator.Validate

	logger         *zap.Logger
	metrics        ports.MetricsCollector
	metricsHandler http.Handler
	tracerProvider trace.TracerProvider

	router *gin.Engine
}

// New builds a Server and registers its routes.
func New(cfg Config, ingest *application.IngestService, sessions *application.Sessions, opts ...Option) (*Server, error) {
	if ingest == nil || sessions == nil {
		return nil, errors.New("server: ingest service and sessions are required")
	}
	v, err := application.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		cfg:      withDefaults(cfg),
		ingest:   ingest,
		sessions: sessions,
		validate: v,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery(), s.requestLogger())
	if s.tracerProvider != nil {
		s.router.Use(otelgin.Middleware(ServiceName, otelgin.WithTracerProvider(s.tracerProvider)))
	}
	s.registerRoutes()
	return s, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = DefaultMetricsPath
	}
	return cfg
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on Config.Addr until ctx is cancelled, then shuts down
// gracefully, waiting up to five seconds for in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	<-errCh
	s.logger.Info("http server stopped")
	return nil
}

// requestLogger logs one line per request and records request metrics.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case status >= http.StatusInternalServerError:
			s.logger.Error("request failed", fields...)
		case status >= http.StatusBadRequest:
			s.logger.Info("request rejected", fields...)
		default:
			s.logger.Debug("request served", fields...)
		}

		if s.metrics != nil {
			labels := map[string]string{"route": route, "status": fmt.Sprint(status)}
			s.metrics.RecordCounter("http_requests_total", 1, labels)
			s.metrics.RecordLatency("http_request", elapsed, labels)
		}
	}
}
