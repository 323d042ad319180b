package driven

import (
	"context"

	"github.com/custodia-labs/graphgate/internal/core/domain"
)

// TokenCache stores active access tokens keyed by (account, scope set).
// Implementations must support concurrent lock-free reads with per-key
// serialised writes; they never perform side effects beyond storage.
type TokenCache interface {
	// Get returns the cached record for the key, if any. Implementations
	// may drop records past their expiry but are not required to: the
	// lifecycle manager re-checks expiry on every read.
	Get(ctx context.Context, account domain.Account, scopes domain.ScopeSet) (domain.TokenRecord, bool)

	// Put stores the record under its key, replacing any previous record.
	Put(ctx context.Context, record domain.TokenRecord)

	// Invalidate removes the record for the key, if present.
	Invalidate(ctx context.Context, account domain.Account, scopes domain.ScopeSet)
}
