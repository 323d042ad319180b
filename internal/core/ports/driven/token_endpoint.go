package driven

import (
	"context"

	"github.com/custodia-labs/graphgate/internal/core/domain"
)

// TokenEndpoint performs grants against the identity provider's OAuth 2.0
// token endpoint. Implementations classify failures into the core's error
// taxonomy: *domain.AuthError for rejected grants, *domain.TransientError
// for connectivity/provider faults, *domain.RateLimitError for throttling.
type TokenEndpoint interface {
	// ExchangeCode redeems an authorization code with its PKCE verifier
	// (authorization_code grant).
	ExchangeCode(ctx context.Context, code, verifier string, scopes domain.ScopeSet) (domain.TokenRecord, error)

	// Refresh redeems a refresh token (refresh_token grant). Providers
	// may rotate the refresh token; the returned record carries whichever
	// refresh token remains valid.
	Refresh(ctx context.Context, refreshToken domain.Secret, scopes domain.ScopeSet) (domain.TokenRecord, error)
}

// AuthURLBuilder constructs the interactive authorization URL for the
// provider, carrying the PKCE challenge and CSRF state.
type AuthURLBuilder interface {
	BuildAuthURL(state, codeChallenge string, scopes domain.ScopeSet) string
}

// IdentityResolver maps a freshly granted access token to the stable user
// identifier the provider knows the account by.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, accessToken string) (string, error)
}
