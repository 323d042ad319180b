package microsoft

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoIdentity indicates neither the token claims nor the Graph profile
// yielded a usable user identifier.
var ErrNoIdentity = errors.New("microsoft: could not resolve account identity")

// IdentityResolver resolves the stable user id for a freshly granted
// access token. It first decodes the token's preferred_username claim
// (Graph access tokens for delegated scopes are JWTs) and falls back to a
// Graph /me call when the claim is absent.
//
// The parse is deliberately unverified: the token was just received over
// TLS from the issuer and is used here only to read the username, never to
// make an authorisation decision.
type IdentityResolver struct {
	// GraphBaseURL overrides the Graph endpoint, used by tests.
	GraphBaseURL string
}

// NewIdentityResolver creates a resolver against the production Graph API.
func NewIdentityResolver() *IdentityResolver {
	return &IdentityResolver{}
}

// ResolveIdentity implements driven.IdentityResolver.
func (r *IdentityResolver) ResolveIdentity(ctx context.Context, accessToken string) (string, error) {
	if id := usernameFromToken(accessToken); id != "" {
		return id, nil
	}

	userInfo, err := GetUserInfo(ctx, r.GraphBaseURL, accessToken)
	if err != nil {
		return "", err
	}
	if email := userInfo.GetUserEmail(); email != "" {
		return email, nil
	}
	return "", ErrNoIdentity
}

// usernameFromToken extracts preferred_username (or upn) from the token
// claims, empty string when the token is not a parseable JWT.
func usernameFromToken(accessToken string) string {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return ""
	}

	if v, ok := claims["preferred_username"].(string); ok && v != "" {
		return v
	}
	if v, ok := claims["upn"].(string); ok && v != "" {
		return v
	}
	return ""
}
