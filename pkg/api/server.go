// Package api exposes the analysis pipeline over HTTP: synchronous
// and queued analysis endpoints, run status and cancellation, the
// WebSocket progress stream, health, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/faultline-io/faultline/pkg/config"
	"github.com/faultline-io/faultline/pkg/events"
	"github.com/faultline-io/faultline/pkg/pipeline"
	"github.com/faultline-io/faultline/pkg/queue"
)

// Options wires a server. Store, Pool, and ConnManager may be nil for
// a synchronous-only deployment: the async and streaming endpoints
// then answer 503.
type Options struct {
	Config       config.ServerConfig
	Orchestrator *pipeline.Orchestrator
	Store        *queue.Store
	Pool         *queue.WorkerPool
	ConnManager  *events.ConnectionManager
	Metrics      *Metrics
	Logger       *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	cfg         config.ServerConfig
	orch        *pipeline.Orchestrator
	store       *queue.Store
	pool        *queue.WorkerPool
	connManager *events.ConnectionManager
	metrics     *Metrics
	logger      *slog.Logger
}

// NewServer creates a server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Server{
		cfg:         opts.Config,
		orch:        opts.Orchestrator,
		store:       opts.Store,
		pool:        opts.Pool,
		connManager: opts.ConnManager,
		metrics:     metrics,
		logger:      logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), s.metrics.middleware(), securityHeaders())

	r.GET("/healthz", s.healthHandler)
	r.GET("/metrics", gin.WrapH(s.metrics.handler()))

	v1 := r.Group("/api/v1")
	v1.POST("/analyze", s.analyzeHandler)
	v1.POST("/analyze/async", s.analyzeAsyncHandler)
	v1.GET("/analyses", s.listAnalysesHandler)
	v1.GET("/analyses/:id", s.getAnalysisHandler)
	v1.POST("/analyses/:id/cancel", s.cancelAnalysisHandler)
	v1.GET("/ws", s.wsHandler)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.HTTPPort,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("HTTP server listening", slog.String("addr", srv.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requestLogger logs one line per request after it completes.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Request handled",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	}
}

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
