// Package server wires the transports, auth and supporting endpoints into
// the HTTP edge.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ticketmcp/ticketmcp/internal/auth"
	"github.com/ticketmcp/ticketmcp/internal/backend"
	"github.com/ticketmcp/ticketmcp/internal/config"
	"github.com/ticketmcp/ticketmcp/internal/dispatch"
	"github.com/ticketmcp/ticketmcp/internal/session"
	"github.com/ticketmcp/ticketmcp/internal/stream"
	"github.com/ticketmcp/ticketmcp/internal/tickets"
	"github.com/ticketmcp/ticketmcp/internal/transport/legacysse"
	"github.com/ticketmcp/ticketmcp/internal/transport/streamable"
)

// sessionSweepInterval is how often expired sessions are collected.
const sessionSweepInterval = 15 * time.Minute

// Server is the assembled gateway.
type Server struct {
	echo           *echo.Echo
	cfg            *config.Config
	logger         *zap.Logger
	sessions       *session.Manager
	legacySessions *session.Manager
	streams        *stream.Manager
	metrics        *metrics
}

// New constructs the full gateway from configuration. Nothing starts
// listening until Start is called.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	provider, err := auth.New(cfg.AuthProvider)
	if err != nil {
		return nil, err
	}

	client := backend.New(cfg.APIBaseURL, cfg.APIKey, logger.Named("backend"),
		backend.WithTimeout(cfg.BackendTimeout))
	adapter := tickets.NewAdapter(client, logger.Named("tickets"))
	dispatcher := dispatch.New(adapter, logger.Named("dispatch"))

	s := &Server{
		cfg:            cfg,
		logger:         logger,
		sessions:       session.NewManager(cfg.SessionMaxAge),
		legacySessions: session.NewManager(cfg.LegacySessionMaxAge),
		streams:        stream.NewManager(cfg.StreamTimeout, logger.Named("stream")),
	}
	s.metrics = newMetrics(s)
	dispatcher.OnToolCall(s.metrics.observeToolCall)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger())
	e.Use(s.originGuard())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderAuthorization,
			echo.HeaderContentType,
			echo.HeaderAccept,
			streamable.SessionHeader,
			auth.DefaultAPIKeyHeader,
		},
		ExposeHeaders: []string{streamable.SessionHeader},
	}))
	s.echo = e

	mcp := streamable.New(s.sessions, s.streams, dispatcher, provider, logger.Named("streamable"))
	legacy := legacysse.New(s.legacySessions, s.streams, dispatcher, provider, logger.Named("legacysse"))
	s.registerRoutes(mcp, legacy)
	return s, nil
}

func (s *Server) registerRoutes(mcp *streamable.Handler, legacy *legacysse.Handler) {
	s.echo.Any(streamable.Path, echo.WrapHandler(mcp))
	s.echo.GET("/sse", echo.WrapHandler(http.HandlerFunc(legacy.ServeSSE)))
	s.echo.POST("/messages", echo.WrapHandler(http.HandlerFunc(legacy.ServeMessages)))
	s.echo.POST("/message", echo.WrapHandler(http.HandlerFunc(legacy.ServeMessages)))

	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))

	s.echo.GET("/.well-known/oauth-authorization-server", s.handleOAuthDiscovery)
	s.echo.GET("/.well-known/oauth-protected-resource", s.handleProtectedResource)
	s.echo.POST("/register", s.handleRegister)
	s.echo.GET("/oauth/authorize", s.handleAuthorize)
	s.echo.POST("/oauth/token", s.handleToken)
}

// Start runs the background sweepers and blocks serving HTTP until the
// listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	go s.sessions.Run(ctx, sessionSweepInterval)
	go s.legacySessions.Run(ctx, sessionSweepInterval)
	go s.streams.Run(ctx)

	s.logger.Info("server starting",
		zap.String("addr", s.cfg.Addr()),
		zap.String("transport", s.cfg.TransportType),
		zap.String("auth_provider", s.cfg.AuthProvider))
	if err := s.echo.Start(s.cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			s.metrics.observeRequest(c.Request().Method, c.Response().Status)
			s.logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	}
}

// originGuard rejects browser requests from origins outside the allow-list.
// Requests without an Origin header pass (direct API clients).
func (s *Server) originGuard() echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(s.cfg.AllowedOrigins))
	for _, origin := range s.cfg.AllowedOrigins {
		allowed[origin] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			origin := c.Request().Header.Get(echo.HeaderOrigin)
			if origin == "" || allowed[origin] {
				return next(c)
			}
			s.logger.Warn("origin rejected", zap.String("origin", origin))
			return c.JSON(http.StatusForbidden, map[string]string{"error": "origin not allowed"})
		}
	}
}
