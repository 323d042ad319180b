package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/graphgate/internal/adapters/driven/vault"
	"github.com/custodia-labs/graphgate/internal/core/domain"
	"github.com/custodia-labs/graphgate/internal/core/ports/driven"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *vault.Memory) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	v := vault.NewMemory()
	client := NewClient(Config{
		TenantID:    "contoso",
		ClientID:    "client-123",
		RedirectURI: "http://localhost:8080/auth/callback",
		AuthURL:     server.URL + "/authorize",
		TokenURL:    server.URL + "/token",
	}, v, zerolog.Nop())
	return client, v
}

func writeTokenResponse(w http.ResponseWriter, accessToken, refreshToken string, expiresIn int64) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"token_type":    "Bearer",
		"expires_in":    expiresIn,
	})
}

func TestBuildAuthURL(t *testing.T) {
	client, _ := newTestClient(t, nil)

	raw := client.BuildAuthURL("state-1", "challenge-1", domain.NewScopeSet("Mail.Read", "offline_access"))

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "client-123", q.Get("client_id"))
	assert.Equal(t, "http://localhost:8080/auth/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "query", q.Get("response_mode"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "challenge-1", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "Mail.Read offline_access", q.Get("scope"))
}

func TestBuildAuthURL_DefaultScopes(t *testing.T) {
	client, _ := newTestClient(t, nil)

	raw := client.BuildAuthURL("state-1", "challenge-1", nil)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Contains(t, parsed.Query().Get("scope"), "offline_access")
}

func TestExchangeCode(t *testing.T) {
	var form url.Values
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		writeTokenResponse(w, "access-1", "refresh-1", 3600)
	})

	before := time.Now()
	rec, err := client.ExchangeCode(context.Background(), "code-1", "verifier-1", domain.NewScopeSet("Mail.Read"))

	require.NoError(t, err)
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "code-1", form.Get("code"))
	assert.Equal(t, "verifier-1", form.Get("code_verifier"))
	assert.Equal(t, "client-123", form.Get("client_id"))
	assert.Empty(t, form.Get("client_secret"), "no secret in the vault means a public client")

	assert.Equal(t, "access-1", rec.AccessToken.Reveal())
	assert.Equal(t, "refresh-1", rec.RefreshToken.Reveal())
	assert.WithinDuration(t, before.Add(time.Hour), rec.ExpiresAt, 5*time.Second)
}

func TestExchangeCode_SendsVaultedClientSecret(t *testing.T) {
	var form url.Values
	client, v := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		writeTokenResponse(w, "access-1", "refresh-1", 3600)
	})
	require.NoError(t, v.StoreSecret(context.Background(), driven.SecretKeyClientSecret, "s3cret"))

	_, err := client.ExchangeCode(context.Background(), "code-1", "verifier-1", domain.NewScopeSet("Mail.Read"))

	require.NoError(t, err)
	assert.Equal(t, "s3cret", form.Get("client_secret"))
}

func TestRefresh(t *testing.T) {
	var form url.Values
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		writeTokenResponse(w, "access-2", "refresh-2", 3600)
	})

	rec, err := client.Refresh(context.Background(), "refresh-1", domain.NewScopeSet("Mail.Read"))

	require.NoError(t, err)
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "refresh-1", form.Get("refresh_token"))
	assert.Equal(t, "access-2", rec.AccessToken.Reveal())
}

func TestRefresh_InvalidGrantIsTerminal(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "AADSTS70000: refresh token revoked",
		})
	})

	_, err := client.Refresh(context.Background(), "dead-refresh", domain.NewScopeSet("Mail.Read"))

	require.True(t, domain.IsAuthError(err))
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "invalid_grant", authErr.Code)
	assert.Equal(t, int32(1), calls.Load(), "terminal auth errors must not be retried")
}

func TestRefresh_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeTokenResponse(w, "access-3", "refresh-3", 3600)
	})

	rec, err := client.Refresh(context.Background(), "refresh-1", domain.NewScopeSet("Mail.Read"))

	require.NoError(t, err)
	assert.Equal(t, "access-3", rec.AccessToken.Reveal())
	assert.Equal(t, int32(3), calls.Load())
}

func TestRefresh_TransientFailuresExhaustRetries(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Refresh(context.Background(), "refresh-1", domain.NewScopeSet("Mail.Read"))

	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, int32(maxAttempts), calls.Load())
}

func TestRefresh_HonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeTokenResponse(w, "access-4", "refresh-4", 3600)
	})

	start := time.Now()
	rec, err := client.Refresh(context.Background(), "refresh-1", domain.NewScopeSet("Mail.Read"))

	require.NoError(t, err)
	assert.Equal(t, "access-4", rec.AccessToken.Reveal())
	assert.GreaterOrEqual(t, time.Since(start), time.Second,
		"the retry must wait out the provider's Retry-After window")
	assert.Equal(t, int32(2), calls.Load())
}

func TestRefresh_EmptyAccessTokenRejected(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeTokenResponse(w, "", "", 3600)
	})

	_, err := client.Refresh(context.Background(), "refresh-1", domain.NewScopeSet("Mail.Read"))
	assert.True(t, domain.IsAuthError(err))
}

// failingVault simulates a vault outage: every operation fails with a
// connection-level error rather than a missing key.
type failingVault struct {
	err error
}

func (v *failingVault) StoreSecret(_ context.Context, key string, _ domain.Secret) error {
	return &domain.VaultError{Op: "store", Key: key, Err: v.err}
}

func (v *failingVault) FetchSecret(_ context.Context, key string) (domain.Secret, error) {
	return "", &domain.VaultError{Op: "fetch", Key: key, Err: v.err}
}

func (v *failingVault) DeleteSecret(_ context.Context, key string) error {
	return &domain.VaultError{Op: "delete", Key: key, Err: v.err}
}

func TestRefresh_VaultOutageIsNotAnAuthFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// A confidential-client endpoint rejects secret-less grants.
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("client_secret") == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":             "invalid_client",
				"error_description": "secret required",
			})
			return
		}
		writeTokenResponse(w, "access", "refresh", 3600)
	}))
	defer server.Close()

	outage := &failingVault{err: errors.New("connection refused")}
	client := NewClient(Config{
		TenantID:    "contoso",
		ClientID:    "client-123",
		RedirectURI: "http://localhost:8080/auth/callback",
		TokenURL:    server.URL + "/token",
	}, outage, zerolog.Nop())

	_, err := client.Refresh(context.Background(), "refresh-1", domain.NewScopeSet("Mail.Read"))

	require.Error(t, err)
	var vaultErr *domain.VaultError
	assert.ErrorAs(t, err, &vaultErr, "the vault failure itself must surface")
	assert.False(t, domain.IsAuthError(err),
		"a vault outage must never be classified as a terminal auth failure")
	assert.Equal(t, int32(0), calls.Load(),
		"no secret-less grant may reach the endpoint")
}

func TestRefresh_MissingClientSecretMeansPublicClient(t *testing.T) {
	var form url.Values
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		writeTokenResponse(w, "access", "refresh", 3600)
	})

	// Nothing stored in the vault: the grant proceeds without a secret.
	rec, err := client.Refresh(context.Background(), "refresh-1", domain.NewScopeSet("Mail.Read"))

	require.NoError(t, err)
	assert.Empty(t, form.Get("client_secret"))
	assert.Equal(t, "access", rec.AccessToken.Reveal())
}

func TestRefresh_ContextCancelled(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeTokenResponse(w, "access", "refresh", 3600)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Refresh(ctx, "refresh-1", domain.NewScopeSet("Mail.Read"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewClient_DefaultEndpoints(t *testing.T) {
	client := NewClient(Config{TenantID: "contoso", ClientID: "c"}, vault.NewMemory(), zerolog.Nop())

	assert.Equal(t, "https://login.microsoftonline.com/contoso/oauth2/v2.0/authorize", client.cfg.AuthURL)
	assert.Equal(t, "https://login.microsoftonline.com/contoso/oauth2/v2.0/token", client.cfg.TokenURL)
}
