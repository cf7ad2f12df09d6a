// Package server exposes the research service over HTTP. One research
// session runs per request, streamed back as server-sent events.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/agents"
	"github.com/mohammad-safakhou/deepresearch/internal/gateway"
	"github.com/mohammad-safakhou/deepresearch/internal/search"
	"github.com/mohammad-safakhou/deepresearch/internal/store"
	"github.com/mohammad-safakhou/deepresearch/internal/telemetry"
)

// Options carries the server's shared dependencies. Gateway, Tools, Archive
// and Metrics are required; Logger defaults to a prefixed stdlib logger.
type Options struct {
	Config  *config.Config
	Gateway *gateway.Gateway
	Tools   *search.Toolset
	Archive store.SessionArchive
	Metrics *telemetry.Metrics
	Logger  *log.Logger
}

// Server routes research requests onto sessions and serves the archive.
type Server struct {
	echo    *echo.Echo
	cfg     *config.Config
	gateway *gateway.Gateway
	tools   *search.Toolset
	archive store.SessionArchive
	metrics *telemetry.Metrics
	logger  *log.Logger
	models  agents.ModelRouting
}

// New builds the server and registers its routes.
func New(opts Options) (*Server, error) {
	if opts.Config == nil || opts.Gateway == nil || opts.Tools == nil || opts.Archive == nil || opts.Metrics == nil {
		return nil, fmt.Errorf("server: missing required dependency")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[SERVER] ", log.LstdFlags)
	}

	s := &Server{
		cfg:     opts.Config,
		gateway: opts.Gateway,
		tools:   opts.Tools,
		archive: opts.Archive,
		metrics: opts.Metrics,
		logger:  logger,
		models:  routingFromConfig(opts.Config.LLM.Routing),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if s.cfg.Telemetry.Enabled {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
	e.POST("/research", s.handleResearch)
	e.GET("/sessions", s.handleListSessions)
	e.GET("/sessions/:id", s.handleGetSession)

	s.echo = e
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until the listener fails or is shut down.
func (s *Server) Start() error {
	addr := s.cfg.Server.Address
	s.logger.Printf("listening on %s", addr)
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func routingFromConfig(r config.LLMRoutingConfig) agents.ModelRouting {
	return agents.ModelRouting{
		Orchestrator:          r.Orchestrator.Model,
		Searcher:              r.Searcher.Model,
		Analyzer:              r.Analyzer.Model,
		Writer:                r.Writer.Model,
		OrchestratorMaxTokens: r.Orchestrator.MaxTokens,
		SearcherMaxTokens:     r.Searcher.MaxTokens,
		AnalyzerMaxTokens:     r.Analyzer.MaxTokens,
		WriterMaxTokens:       r.Writer.MaxTokens,
	}
}

func (s *Server) handleListSessions(c echo.Context) error {
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		}
		limit = n
	}
	sessions, err := s.archive.List(c.Request().Context(), limit)
	if err != nil {
		s.logger.Printf("list sessions: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list sessions"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) handleGetSession(c echo.Context) error {
	summary, err := s.archive.Get(c.Request().Context(), c.Param("id"))
	if err == store.ErrNotFound {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Session not found"})
	}
	if err != nil {
		s.logger.Printf("get session: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to load session"})
	}
	return c.JSON(http.StatusOK, summary)
}
