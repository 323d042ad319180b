package driven

import (
	"context"

	"github.com/custodia-labs/graphgate/internal/core/domain"
)

// SecretVault is the external secret store the core consumes. Encryption at
// rest and access control are the vault's responsibility, not the core's.
// Failures surface as *domain.VaultError and are never retried here.
type SecretVault interface {
	StoreSecret(ctx context.Context, key string, value domain.Secret) error
	FetchSecret(ctx context.Context, key string) (domain.Secret, error)
	DeleteSecret(ctx context.Context, key string) error
}

// Well-known vault keys.
const (
	// SecretKeyClientSecret holds the confidential-client secret for the
	// app registration.
	SecretKeyClientSecret = "oauth/client_secret"
)

// RefreshTokenKey returns the vault key under which the refresh token for
// an (account, scope set) pair is stored.
func RefreshTokenKey(account domain.Account, scopes domain.ScopeSet) string {
	return "oauth/refresh_token/" + domain.CacheKey(account, scopes)
}
