package domain

import (
	"sort"
	"strings"
)

// Account identifies a delegated-permission principal: one user within one
// Microsoft Entra tenant. Accounts are immutable once registered.
type Account struct {
	// TenantID is the directory (tenant) the account belongs to.
	// "common" is accepted for multi-tenant app registrations.
	TenantID string
	// UserID is the stable user identifier, normally the
	// userPrincipalName / preferred_username claim.
	UserID string
}

// ID returns the canonical account identifier used as a storage key.
func (a Account) ID() string {
	return a.TenantID + "/" + a.UserID
}

// IsZero reports whether the account is unset.
func (a Account) IsZero() bool {
	return a.TenantID == "" && a.UserID == ""
}

// ScopeSet is an ordered, deduplicated set of OAuth scopes.
type ScopeSet []string

// NewScopeSet builds a normalised scope set: trimmed, deduplicated, sorted.
// Scope case is preserved because Graph scopes are case-sensitive.
func NewScopeSet(scopes ...string) ScopeSet {
	seen := make(map[string]struct{}, len(scopes))
	out := make(ScopeSet, 0, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Key returns the space-joined canonical form used in cache keys and in the
// scope parameter of token requests.
func (s ScopeSet) Key() string {
	return strings.Join(s, " ")
}

// Contains reports whether the set includes the given scope.
func (s ScopeSet) Contains(scope string) bool {
	for _, v := range s {
		if v == scope {
			return true
		}
	}
	return false
}

// CacheKey returns the coordination key for an (account, scope set) pair.
// Every lifecycle structure (cache entries, single-flight groups, refresh
// state) is keyed by this value, so different scope sets for the same
// account refresh independently.
func CacheKey(account Account, scopes ScopeSet) string {
	return account.ID() + "|" + scopes.Key()
}
