// Package oauth implements the token-endpoint client for the Microsoft
// identity platform v2.0: authorization-code + PKCE exchange and
// refresh-token grants, with transient-failure retry and throttle handling.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/graphgate/internal/core/domain"
	"github.com/custodia-labs/graphgate/internal/core/ports/driven"
)

// Microsoft identity platform v2.0 endpoints, parameterised by tenant.
const (
	authURLTemplate = "https://login.microsoftonline.com/%s/oauth2/v2.0/authorize"
	//nolint:gosec // G101: Not credentials, OAuth endpoint URL
	tokenURLTemplate = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
)

// DefaultScopes are the scopes requested when none are configured.
// offline_access is required for refresh tokens.
var DefaultScopes = []string{
	"openid",
	"email",
	"profile",
	"offline_access",
	"User.Read",
	"Mail.Read",
}

// maxAttempts bounds retries of one grant: the first try plus two retries.
const maxAttempts = 3

// tokenResponse is the provider's JSON token response. Error fields are
// populated on non-2xx responses.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`

	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Config holds the app registration the client acts for.
type Config struct {
	TenantID    string
	ClientID    string
	RedirectURI string
	// AuthURL/TokenURL override the Microsoft defaults, used by tests.
	AuthURL  string
	TokenURL string
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
}

// Client performs grants against the token endpoint and implements
// driven.TokenEndpoint and driven.AuthURLBuilder. The confidential client
// secret is fetched from the vault on every grant so rotation takes effect
// without restarts.
type Client struct {
	cfg   Config
	vault driven.SecretVault

	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger

	mu      sync.Mutex
	retryAt time.Time
}

// NewClient creates a token-endpoint client.
func NewClient(cfg Config, vault driven.SecretVault, log zerolog.Logger) *Client {
	if cfg.AuthURL == "" {
		cfg.AuthURL = fmt.Sprintf(authURLTemplate, cfg.TenantID)
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = fmt.Sprintf(tokenURLTemplate, cfg.TenantID)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		cfg:        cfg,
		vault:      vault,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		// Conservative: the token endpoint is far below Graph quotas but
		// throttles aggressively on bursts.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		log:     log,
	}
}

// BuildAuthURL constructs the authorization URL for the interactive flow.
// response_mode=query keeps code extraction simple on the callback.
func (c *Client) BuildAuthURL(state, codeChallenge string, scopes domain.ScopeSet) string {
	if len(scopes) == 0 {
		scopes = domain.NewScopeSet(DefaultScopes...)
	}

	params := url.Values{
		"client_id":             {c.cfg.ClientID},
		"redirect_uri":          {c.cfg.RedirectURI},
		"response_type":         {"code"},
		"response_mode":         {"query"},
		"scope":                 {scopes.Key()},
		"state":                 {state},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {"S256"},
	}

	return c.cfg.AuthURL + "?" + params.Encode()
}

// ExchangeCode redeems an authorization code with its PKCE verifier.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string, scopes domain.ScopeSet) (domain.TokenRecord, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	form.Set("code_verifier", verifier)
	form.Set("scope", scopes.Key())

	return c.grant(ctx, form)
}

// Refresh redeems a refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken domain.Secret, scopes domain.ScopeSet) (domain.TokenRecord, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("refresh_token", refreshToken.Reveal())
	form.Set("scope", scopes.Key())

	return c.grant(ctx, form)
}

// grant posts the form to the token endpoint, retrying transient failures
// with exponential backoff and honouring provider throttle delays.
func (c *Client) grant(ctx context.Context, form url.Values) (domain.TokenRecord, error) {
	secret, err := c.vault.FetchSecret(ctx, driven.SecretKeyClientSecret)
	switch {
	case err == nil:
		if !secret.IsEmpty() {
			form.Set("client_secret", secret.Reveal())
		}
	case errors.Is(err, domain.ErrSecretNotFound):
		// No secret configured: public client, proceed without one.
	default:
		// A vault outage must surface as a vault failure. Sending the
		// grant without the secret would draw a terminal invalid_client
		// and wipe the account's credentials over a storage blip.
		return domain.TokenRecord{}, err
	}

	var record domain.TokenRecord
	backoff := retry.WithMaxRetries(maxAttempts-1, retry.NewExponential(500*time.Millisecond))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.wait(ctx); err != nil {
			return err
		}

		rec, err := c.post(ctx, form)
		if err != nil {
			if after, ok := domain.IsRateLimited(err); ok {
				c.recordThrottle(after)
				return retry.RetryableError(err)
			}
			if domain.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		record = rec
		return nil
	})
	if err != nil {
		return domain.TokenRecord{}, err
	}
	return record, nil
}

// post performs one token request and classifies the outcome.
func (c *Client) post(ctx context.Context, form url.Values) (domain.TokenRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.TokenRecord{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.TokenRecord{}, &domain.TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Fall through to decode below.
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.TokenRecord{}, &domain.RateLimitError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= http.StatusInternalServerError:
		return domain.TokenRecord{}, &domain.TransientError{
			Err: fmt.Errorf("token endpoint returned status %d", resp.StatusCode),
		}
	default:
		// 4xx carries an OAuth error body; invalid_grant and friends are
		// terminal.
		var body tokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.ErrorCode == "" {
			return domain.TokenRecord{}, &domain.AuthError{
				Code: fmt.Sprintf("http_%d", resp.StatusCode),
			}
		}
		return domain.TokenRecord{}, &domain.AuthError{
			Code:        body.ErrorCode,
			Description: body.ErrorDescription,
		}
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.TokenRecord{}, &domain.TransientError{Err: fmt.Errorf("decode token response: %w", err)}
	}
	if body.AccessToken == "" {
		return domain.TokenRecord{}, &domain.AuthError{Code: "empty_response", Description: "no access_token in response"}
	}

	now := time.Now()
	rec := domain.TokenRecord{
		AccessToken:  domain.Secret(body.AccessToken),
		RefreshToken: domain.Secret(body.RefreshToken),
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Duration(body.ExpiresIn) * time.Second),
	}
	c.log.Debug().Int64("expires_in", body.ExpiresIn).Msg("token grant succeeded")
	return rec, nil
}

// wait blocks for the rate limiter and any outstanding throttle window.
func (c *Client) wait(ctx context.Context) error {
	c.mu.Lock()
	retryAt := c.retryAt
	c.mu.Unlock()

	if until := time.Until(retryAt); until > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(until):
		}
	}
	return c.limiter.Wait(ctx)
}

// recordThrottle sets the backoff window after a 429 response.
func (c *Client) recordThrottle(after time.Duration) {
	if after <= 0 {
		after = 60 * time.Second
	}
	c.mu.Lock()
	c.retryAt = time.Now().Add(after)
	c.mu.Unlock()
}

// retryAfter parses the Retry-After header, zero when absent or malformed.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
