package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the core.
var (
	// ErrNoToken indicates no cached or persisted token exists for the
	// key and no refresh token is available: interactive login required.
	ErrNoToken = errors.New("graphgate: no token for account")

	// ErrAccountNotFound indicates the account was never registered.
	ErrAccountNotFound = errors.New("graphgate: account not found")

	// ErrManagerClosed indicates the lifecycle manager has been shut down.
	ErrManagerClosed = errors.New("graphgate: lifecycle manager closed")

	// ErrSecretNotFound indicates the vault holds no value for a key.
	// Vault adapters wrap it in a *VaultError.
	ErrSecretNotFound = errors.New("graphgate: secret not found")
)

// AuthError is terminal: the refresh token (or authorization code) was
// rejected by the identity provider and the user must re-consent
// interactively. The lifecycle manager clears the cached record for the key
// when it sees one.
type AuthError struct {
	// Code is the OAuth error code, e.g. "invalid_grant".
	Code string
	// Description is the provider's error_description, safe to log.
	Description string
}

func (e *AuthError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("auth error: %s", e.Code)
	}
	return fmt.Sprintf("auth error: %s: %s", e.Code, e.Description)
}

// TransientError wraps a connectivity or provider-side failure that is
// worth retrying with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitError indicates the provider throttled the request. RetryAfter
// carries the provider-mandated delay.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// VaultError wraps a secret-store failure. The core propagates these
// without retrying; availability of the vault is its own concern.
type VaultError struct {
	Op  string
	Key string
	Err error
}

func (e *VaultError) Error() string {
	return fmt.Sprintf("vault %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *VaultError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is (or wraps) a terminal AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRateLimited reports whether err is a throttling response, returning the
// mandated delay when it is.
func IsRateLimited(err error) (time.Duration, bool) {
	var re *RateLimitError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}
