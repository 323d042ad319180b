package domain

import (
	"time"
)

// Secret is an opaque credential value. It deliberately satisfies
// fmt.Stringer and json.Marshaler with a redacted form so that token
// material can never leak through logging or diagnostic serialisation.
// Use Reveal at the single point where the raw value crosses the wire.
type Secret string

const redacted = "[redacted]"

// String returns a redacted placeholder, never the secret itself.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// MarshalJSON redacts the secret. Persistence layers must encrypt and store
// the revealed value explicitly rather than relying on JSON round-trips.
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte(`""`), nil
	}
	return []byte(`"` + redacted + `"`), nil
}

// Reveal returns the raw secret value.
func (s Secret) Reveal() string {
	return string(s)
}

// IsEmpty reports whether the secret is unset.
func (s Secret) IsEmpty() bool {
	return s == ""
}

// TokenRecord is the cached result of a token grant for one
// (account, scope set) pair. Records are immutable snapshots: the lifecycle
// manager replaces whole records, it never mutates fields in place.
type TokenRecord struct {
	Account Account
	Scopes  ScopeSet

	AccessToken  Secret
	RefreshToken Secret

	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Key returns the cache/coordination key for the record.
func (r TokenRecord) Key() string {
	return CacheKey(r.Account, r.Scopes)
}

// ValidAt reports whether the access token is still usable at t.
func (r TokenRecord) ValidAt(t time.Time) bool {
	return !r.AccessToken.IsEmpty() && t.Before(r.ExpiresAt)
}

// NearExpiryAt reports whether the token is inside the proactive refresh
// margin at t but has not yet expired.
func (r TokenRecord) NearExpiryAt(t time.Time, margin time.Duration) bool {
	return r.ValidAt(t) && !t.Before(r.ExpiresAt.Add(-margin))
}

// TTLAt returns the remaining lifetime at t, zero when already expired.
func (r TokenRecord) TTLAt(t time.Time) time.Duration {
	if d := r.ExpiresAt.Sub(t); d > 0 {
		return d
	}
	return 0
}

// TokenState is the lifecycle state of one (account, scope set) key.
type TokenState string

const (
	// StateValid means the cached token is outside the refresh margin.
	StateValid TokenState = "valid"
	// StateNearExpiry means the token is inside the margin and a
	// background refresh should be running.
	StateNearExpiry TokenState = "near_expiry"
	// StateRefreshing means a refresh is in flight for the key.
	StateRefreshing TokenState = "refreshing"
	// StateFailed means the last refresh ended in a terminal error and
	// the key requires interactive re-authentication.
	StateFailed TokenState = "failed"
)
