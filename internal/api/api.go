// Package api serves chart snapshots, the pair listing and the live feed
// over HTTP.
//
// Layout:
//   - api.go: server, dependencies and routing
//   - handler.go: snapshot, pair and status handlers
//   - stream.go: SSE and websocket live feed
//   - middleware.go: request ids, logging, recovery, CORS and metrics
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dex-candles/internal/domain"
	"dex-candles/internal/observability"
	"dex-candles/internal/service"
	"dex-candles/internal/stream"
)

const (
	ServiceName         = "dex-candles"
	ServiceVersion      = "1.0.0"
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"

	DefaultPairsLimit = 20
	MaxPairsLimit     = 100
)

// ChartService is the query side used by the handlers.
type ChartService interface {
	GetChart(ctx context.Context, pair, label string, limit int) (*service.Chart, error)
	ValidateKey(pair, label string) (domain.SeriesKey, error)
	Track(pair string)
	Pairs(ctx context.Context, limit int) ([]*domain.TradingPair, error)
	Intervals() []string
	SeriesCount() int
}

var _ ChartService = (*service.ChartService)(nil)

// Options configures a Server.
type Options struct {
	Charts ChartService
	Hub    *stream.Hub

	RequestTimeout  time.Duration // Default: 15s
	ReadTimeout     time.Duration // Default: 10s
	ShutdownTimeout time.Duration // Default: 10s
	Heartbeat       time.Duration // Default: 15s
	AllowOrigin     string        // Default: "*"
	StartedAt       time.Time     // Default: time.Now()
	Logger          *zap.Logger
}

// Server is the HTTP front of the service.
type Server struct {
	charts ChartService
	hub    *stream.Hub

	requestTimeout  time.Duration
	readTimeout     time.Duration
	shutdownTimeout time.Duration
	heartbeat       time.Duration
	allowOrigin     string
	startedAt       time.Time
	logger          *zap.Logger
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.AllowOrigin == "" {
		opts.AllowOrigin = "*"
	}
	if opts.StartedAt.IsZero() {
		opts.StartedAt = time.Now()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Server{
		charts:          opts.Charts,
		hub:             opts.Hub,
		requestTimeout:  opts.RequestTimeout,
		readTimeout:     opts.ReadTimeout,
		shutdownTimeout: opts.ShutdownTimeout,
		heartbeat:       opts.Heartbeat,
		allowOrigin:     opts.AllowOrigin,
		startedAt:       opts.StartedAt,
		logger:          opts.Logger,
	}
}

// SetupRoutes configures all routes.
func (s *Server) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(requestIDMiddleware())
	router.Use(s.loggerMiddleware())
	router.Use(s.recoveryMiddleware())
	router.Use(corsMiddleware(s.allowOrigin))
	router.Use(metricsMiddleware())

	api := router.Group("/api")
	api.GET("/candles", s.GetCandles)
	api.GET("/pairs", s.GetPairs)
	api.GET("/intervals", s.GetIntervals)
	api.GET("/stream", s.StreamSSE)
	api.GET("/ws", s.StreamWS)

	router.GET("/health", s.HealthCheck)
	router.GET("/status", s.Status)
	router.GET("/metrics", gin.WrapH(observability.Handler()))

	return router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
// Open streams are ended by cancelling their request contexts.
func (s *Server) Run(ctx context.Context, addr string) error {
	base, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: s.readTimeout,
		BaseContext:       func(net.Listener) context.Context { return base },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}
