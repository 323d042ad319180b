package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/custodia-labs/graphgate/internal/core/domain"
)

// handleHealth reports liveness.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogin starts the interactive flow by redirecting the browser to
// the provider's authorize URL.
func (s *Server) handleLogin(c echo.Context) error {
	url, err := s.flow.BeginLogin(c.Request().Context())
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, url)
}

// callbackResponse is the JSON body returned after a completed login.
type callbackResponse struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

// handleCallback finishes the interactive flow. Providers report refusals
// via error/error_description query parameters instead of a code.
func (s *Server) handleCallback(c echo.Context) error {
	if provErr := c.QueryParam("error"); provErr != "" {
		return &domain.AuthError{
			Code:        provErr,
			Description: c.QueryParam("error_description"),
		}
	}

	code := c.QueryParam("code")
	state := c.QueryParam("state")
	if code == "" || state == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing code or state")
	}

	account, err := s.flow.CompleteLogin(c.Request().Context(), state, code)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, callbackResponse{
		Message: "Login successful",
		UserID:  account.UserID,
	})
}

// handleInbox lists recent inbox messages for the account named in the
// query, riding on a token from the lifecycle manager.
func (s *Server) handleInbox(c echo.Context) error {
	account, err := parseAccount(c.QueryParam("account"))
	if err != nil {
		return err
	}

	top := 0
	if v := c.QueryParam("top"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			top = n
		}
	}

	provider := s.manager.NewProvider(account, s.scopes)
	messages, err := s.newInbox(provider).ListInbox(c.Request().Context(), top)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messages)
}

// tokenInfo is the debug listing entry: identity and issue time only.
type tokenInfo struct {
	AccountID string    `json:"account_id"`
	IssuedAt  time.Time `json:"issued_at"`
}

// handleDebugTokens lists known accounts and when their tokens were issued.
// Token material never appears here.
func (s *Server) handleDebugTokens(c echo.Context) error {
	if s.directory == nil {
		return echo.NewHTTPError(http.StatusNotFound, "token directory disabled")
	}

	issued, err := s.directory.IssuedTimes(c.Request().Context())
	if err != nil {
		return err
	}

	infos := make([]tokenInfo, 0, len(issued))
	for id, at := range issued {
		infos = append(infos, tokenInfo{AccountID: id, IssuedAt: at})
	}
	return c.JSON(http.StatusOK, infos)
}

// parseAccount splits the "tenant/user" account query parameter.
func parseAccount(raw string) (domain.Account, error) {
	if raw == "" {
		return domain.Account{}, echo.NewHTTPError(http.StatusBadRequest, "account query parameter is required")
	}
	tenant, user, ok := strings.Cut(raw, "/")
	if !ok || tenant == "" || user == "" {
		return domain.Account{}, echo.NewHTTPError(http.StatusBadRequest, "account must be tenant/user")
	}
	return domain.Account{TenantID: tenant, UserID: user}, nil
}
