// Package httpapi exposes the gateway over HTTP: the interactive login
// flow, the Outlook inbox read and operational endpoints.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/custodia-labs/graphgate/internal/connectors/microsoft/outlook"
	"github.com/custodia-labs/graphgate/internal/core/domain"
	"github.com/custodia-labs/graphgate/internal/core/ports/driven"
	"github.com/custodia-labs/graphgate/internal/core/services"
)

// InboxLister lists inbox message summaries for one authenticated account.
type InboxLister interface {
	ListInbox(ctx context.Context, top int) ([]outlook.Summary, error)
}

// TokenDirectory lists accounts known to the persisted store. Only
// non-sensitive metadata crosses this interface.
type TokenDirectory interface {
	Accounts(ctx context.Context) ([]domain.Account, error)
	IssuedTimes(ctx context.Context) (map[string]time.Time, error)
}

// Config holds server settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	GracefulTimeout time.Duration
}

// Server is the HTTP face of the gateway.
type Server struct {
	echo    *echo.Echo
	cfg     Config
	flow    *services.AuthFlowService
	manager *services.LifecycleManager
	scopes  domain.ScopeSet

	// newInbox builds the mail reader for a token provider; tests
	// substitute a fake.
	newInbox func(driven.TokenProvider) InboxLister

	directory TokenDirectory
	log       zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithInboxFactory overrides how inbox readers are built.
func WithInboxFactory(f func(driven.TokenProvider) InboxLister) Option {
	return func(s *Server) {
		s.newInbox = f
	}
}

// WithTokenDirectory enables the debug token listing.
func WithTokenDirectory(d TokenDirectory) Option {
	return func(s *Server) {
		s.directory = d
	}
}

// NewServer wires the routes.
func NewServer(
	cfg Config,
	flow *services.AuthFlowService,
	manager *services.LifecycleManager,
	scopes domain.ScopeSet,
	log zerolog.Logger,
	opts ...Option,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		cfg:     cfg,
		flow:    flow,
		manager: manager,
		scopes:  scopes,
		newInbox: func(tp driven.TokenProvider) InboxLister {
			return outlook.New(tp)
		},
		log: log,
	}
	for _, opt := range opts {
		opt(s)
	}

	e.Use(s.requestLogger)
	e.HTTPErrorHandler = s.errorHandler

	e.GET("/healthz", s.handleHealth)
	e.GET("/auth/login", s.handleLogin)
	e.GET("/auth/callback", s.handleCallback)
	e.GET("/mail/inbox", s.handleInbox)
	e.GET("/debug/tokens", s.handleDebugTokens)

	return s
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.echo.Server.ReadTimeout = s.cfg.ReadTimeout
	s.echo.Server.WriteTimeout = s.cfg.WriteTimeout

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(s.cfg.Addr)
	}()
	s.log.Info().Str("addr", s.cfg.Addr).Msg("http server started")

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulTimeout)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// requestLogger logs one line per request. Query strings are omitted:
// callback URLs carry authorization codes.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.log.Info().
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Int("status", c.Response().Status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
		return err
	}
}

// errorHandler maps the core error taxonomy onto HTTP statuses.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	msg := "internal error"

	var (
		vaultErr *domain.VaultError
		httpErr  *echo.HTTPError
	)
	_, rateLimited := domain.IsRateLimited(err)

	switch {
	case domain.IsAuthError(err), errors.Is(err, domain.ErrNoToken):
		status = http.StatusUnauthorized
		msg = "authentication required"
	case rateLimited:
		status = http.StatusTooManyRequests
		msg = "throttled by provider"
	case domain.IsTransient(err), errors.As(err, &vaultErr):
		status = http.StatusBadGateway
		msg = "upstream temporarily unavailable"
	case errors.Is(err, services.ErrLoginExpired):
		status = http.StatusBadRequest
		msg = "login attempt expired, start again at /auth/login"
	case errors.Is(err, domain.ErrAccountNotFound):
		status = http.StatusNotFound
		msg = "unknown account"
	case errors.As(err, &httpErr):
		status = httpErr.Code
		if m, ok := httpErr.Message.(string); ok {
			msg = m
		}
	}

	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg("request failed")
	}

	_ = c.JSON(status, map[string]string{"error": msg})
}
