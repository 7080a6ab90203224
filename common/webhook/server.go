// Package webhook is the node's inbound HTTP surface (C7): health, message
// delivery, and platform token refresh, served over echo the way the
// orchestrator's own HTTP services are.
package webhook

import (
	"context"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/flamehq/flame-node-sdk/common/broker"
	"github.com/flamehq/flame-node-sdk/common/logger"
	"github.com/flamehq/flame-node-sdk/common/metrics"
	"github.com/flamehq/flame-node-sdk/common/middleware"
	"github.com/flamehq/flame-node-sdk/common/nodeconfig"
	"github.com/flamehq/flame-node-sdk/common/ratelimit"
	"github.com/flamehq/flame-node-sdk/common/server"
)

// TokenRefresher is implemented by every component holding an immutable,
// token-scoped HTTP client: on token_refresh, the webhook calls
// RefreshToken on each in turn (spec.md §5).
type TokenRefresher interface {
	RefreshToken(token string)
}

// Server is the node's webhook HTTP server.
type Server struct {
	echo       *echo.Echo
	httpSrv    *server.Server
	identity   *nodeconfig.Identity
	brokerCl   *broker.Client
	refreshers []TokenRefresher
	onFinished func()
	finishOnce sync.Once
	log        *logger.Logger
	port       int
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithTokenRefreshers registers components to notify on token_refresh.
func WithTokenRefreshers(refreshers ...TokenRefresher) Option {
	return func(s *Server) { s.refreshers = append(s.refreshers, refreshers...) }
}

// WithFinishedCallback registers a callback invoked once, the first time an
// analysis_finished message arrives at the webhook (spec.md §4.1, one of the
// three paths that may set Identity.Finish).
func WithFinishedCallback(fn func()) Option {
	return func(s *Server) { s.onFinished = fn }
}

// New constructs the webhook server. rateLimiter may be nil to disable
// rate limiting entirely.
func New(identity *nodeconfig.Identity, brokerCl *broker.Client, log *logger.Logger, port int, rateLimiter *ratelimit.RateLimiter, opts ...Option) *Server {
	s := &Server{
		echo:     echo.New(),
		identity: identity,
		brokerCl: brokerCl,
		log:      log,
		port:     port,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestID())
	if rateLimiter != nil {
		s.echo.Use(middleware.GlobalRateLimitMiddleware(rateLimiter, ratelimit.DefaultGlobalConfig))
		s.echo.Use(middleware.SourceRateLimitMiddleware(rateLimiter, ratelimit.DefaultSourceConfig))
	}

	s.echo.GET("/healthz", s.handleHealth)
	s.echo.POST("/webhook", s.handleWebhook)
	s.echo.POST("/token_refresh", s.handleTokenRefresh)

	s.httpSrv = server.New("webhook", port, s.echo, log)

	return s
}

// Echo exposes the underlying echo instance, for mounting an optional debug
// stream route (common/streamer).
func (s *Server) Echo() *echo.Echo { return s.echo }

// Start runs the webhook server until ctx is canceled, then shuts it down
// gracefully. The listening and shutdown mechanics live in common/server;
// this just supplies the echo router as the handler.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("webhook server starting", "port", s.port)
	return s.httpSrv.Start(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":                  s.identity.RunState(),
		"progress":                s.identity.Progress(),
		"token_remaining_seconds": s.identity.TokenRemainingSeconds(),
		"system":                  metrics.GetSystemInfo().ToMap(),
	})
}

func (s *Server) handleWebhook(c echo.Context) error {
	msg, err := decodeMessage(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.brokerCl.Receive(c.Request().Context(), msg); err != nil {
		s.log.Warn("webhook: failed to record inbound message", "error", err)
	}

	if msg.Meta.Category == "analysis_finished" {
		s.identity.Finish()
		if s.onFinished != nil {
			s.finishOnce.Do(s.onFinished)
		}
	}

	return c.NoContent(http.StatusOK)
}

func (s *Server) handleTokenRefresh(c echo.Context) error {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&body); err != nil || body.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}

	for _, refresher := range s.refreshers {
		refresher.RefreshToken(body.Token)
	}
	s.identity.RefreshPlatformToken(body.Token)

	return c.JSON(http.StatusOK, map[string]string{"message": "token refreshed successfully"})
}
