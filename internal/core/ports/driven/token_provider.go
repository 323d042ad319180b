package driven

import "context"

// TokenProvider supplies valid bearer tokens to Graph API consumers. The
// lifecycle manager is the canonical implementation; connectors depend on
// this interface so tests can substitute a static token.
type TokenProvider interface {
	// GetToken returns a bearer token that is valid at the time of the
	// call. It blocks only when no usable token exists for the key.
	GetToken(ctx context.Context) (string, error)
}
