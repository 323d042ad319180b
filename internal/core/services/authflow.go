package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/custodia-labs/graphgate/internal/core/domain"
	"github.com/custodia-labs/graphgate/internal/core/ports/driven"
)

// ErrLoginExpired indicates the callback arrived with an unknown or
// timed-out state parameter.
var ErrLoginExpired = errors.New("graphgate: login attempt expired or unknown")

// loginTTL is how long a started login waits for its callback.
const loginTTL = 10 * time.Minute

// AuthFlowService drives the interactive authorization-code + PKCE flow:
// it issues authorize URLs, tracks pending logins by CSRF state and turns
// callbacks into committed grants.
type AuthFlowService struct {
	endpoint driven.TokenEndpoint
	urls     driven.AuthURLBuilder
	identity driven.IdentityResolver
	manager  *LifecycleManager

	tenantID string
	scopes   domain.ScopeSet

	// pending maps state -> PKCE verifier for logins awaiting callback.
	pending *ttlcache.Cache[string, string]
	log     zerolog.Logger
}

// NewAuthFlowService creates the flow service. tenantID stamps the tenant
// half of every account produced by CompleteLogin.
func NewAuthFlowService(
	endpoint driven.TokenEndpoint,
	urls driven.AuthURLBuilder,
	identity driven.IdentityResolver,
	manager *LifecycleManager,
	tenantID string,
	scopes domain.ScopeSet,
	log zerolog.Logger,
) *AuthFlowService {
	pending := ttlcache.New(
		ttlcache.WithTTL[string, string](loginTTL),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go pending.Start()

	return &AuthFlowService{
		endpoint: endpoint,
		urls:     urls,
		identity: identity,
		manager:  manager,
		tenantID: tenantID,
		scopes:   scopes,
		pending:  pending,
		log:      log,
	}
}

// BeginLogin starts a login attempt: it generates the PKCE verifier and
// CSRF state, remembers them, and returns the provider authorize URL to
// redirect the user to.
func (s *AuthFlowService) BeginLogin(_ context.Context) (string, error) {
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)

	s.pending.Set(state, verifier, ttlcache.DefaultTTL)

	url := s.urls.BuildAuthURL(state, challenge, s.scopes)
	s.log.Debug().Str("state", state).Msg("login started")
	return url, nil
}

// CompleteLogin handles the provider callback: it validates the state,
// redeems the code with the matching PKCE verifier, resolves the account
// identity and commits the grant to the lifecycle manager.
func (s *AuthFlowService) CompleteLogin(ctx context.Context, state, code string) (domain.Account, error) {
	// Take the entry atomically: of two concurrent callbacks replaying
	// the same state, exactly one gets the verifier.
	item, ok := s.pending.GetAndDelete(state)
	if !ok || item == nil {
		return domain.Account{}, ErrLoginExpired
	}
	verifier := item.Value()

	rec, err := s.endpoint.ExchangeCode(ctx, code, verifier, s.scopes)
	if err != nil {
		return domain.Account{}, err
	}

	userID, err := s.identity.ResolveIdentity(ctx, rec.AccessToken.Reveal())
	if err != nil {
		return domain.Account{}, err
	}

	account := domain.Account{TenantID: s.tenantID, UserID: userID}
	rec.Account = account
	rec.Scopes = s.scopes

	if err := s.manager.CommitGrant(ctx, rec); err != nil {
		return domain.Account{}, err
	}

	s.log.Info().Str("account", account.ID()).Msg("login completed")
	return account, nil
}

// Close stops the pending-login janitor.
func (s *AuthFlowService) Close() {
	s.pending.Stop()
}
