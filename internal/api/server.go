// Package api serves the HTTP/JSON surface of the daemon under /api/v1.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sznuper/overwatch/internal/handler"
	"github.com/sznuper/overwatch/internal/runner"
	"github.com/sznuper/overwatch/internal/scheduler"
	"github.com/sznuper/overwatch/internal/store"
)

// Options configure the listener and the per-client rate limit.
type Options struct {
	Addr              string
	RequestsPerSecond float64
	Burst             int
}

// Deps are the components the API exposes. Events and Scheduler may be nil.
type Deps struct {
	Runner    *runner.Runner
	Store     store.Store
	Pipeline  *handler.Pipeline
	Scheduler *scheduler.Scheduler
	Events    http.Handler
}

type Server struct {
	deps   Deps
	opts   Options
	router *gin.Engine
	logger *slog.Logger
}

// New builds the router. Nothing listens until Start.
func New(deps Deps, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 40
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		deps:   deps,
		opts:   opts,
		router: gin.New(),
		logger: logger.With("component", "api"),
	}
	limiter := NewIPRateLimiter(opts.RequestsPerSecond, opts.Burst, 5*time.Minute)
	s.router.Use(gin.Recovery(), requestLogger(s.logger), limiter.Middleware())
	s.routes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address until ctx is done, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("serving api: %w", err)
			return
		}
		errc <- nil
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down api: %w", err)
	}
	return <-errc
}

func (s *Server) routes() {
	v1 := s.router.Group("/api/v1")
	v1.GET("/ping", func(c *gin.Context) { ok(c, gin.H{"pong": true}) })

	checks := v1.Group("/checks")
	{
		checks.GET("", s.listChecks)
		checks.GET("/:name", s.getCheck)
		checks.POST("/:name/run", s.runCheck)
		checks.POST("/:name/enable", s.toggleCheck(true))
		checks.POST("/:name/disable", s.toggleCheck(false))
		checks.POST("/:name/reset", s.resetCheck)
	}

	alerts := v1.Group("/alerts")
	{
		alerts.GET("", s.listAlerts)
		alerts.POST("/resolve", s.resolveAlerts)
	}

	targets := v1.Group("/targets")
	{
		targets.GET("/:target", s.getTarget)
		targets.POST("/:target/enable", s.toggleTarget(true))
		targets.POST("/:target/disable", s.toggleTarget(false))
		targets.DELETE("/:target", s.deleteTarget)
		targets.POST("/:target/checks/:check/enable", s.togglePair(true))
		targets.POST("/:target/checks/:check/disable", s.togglePair(false))
	}

	v1.GET("/handlers", s.listHandlers)
	v1.GET("/schedules", s.listSchedules)
	if s.deps.Events != nil {
		v1.GET("/events", gin.WrapH(s.deps.Events))
	}
}
