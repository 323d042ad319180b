package driven

import (
	"context"

	"github.com/custodia-labs/graphgate/internal/core/domain"
)

// TokenStore persists token records across restarts. The lifecycle manager
// writes through to it after every successful grant and reads from it when
// the in-memory cache misses. Implementations encrypt token material at
// rest.
type TokenStore interface {
	Save(ctx context.Context, record domain.TokenRecord) error
	Load(ctx context.Context, account domain.Account, scopes domain.ScopeSet) (domain.TokenRecord, error)
	Delete(ctx context.Context, account domain.Account, scopes domain.ScopeSet) error

	// Accounts lists every account with at least one persisted record.
	Accounts(ctx context.Context) ([]domain.Account, error)
}
