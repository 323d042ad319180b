package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/graphgate/internal/core/domain"
	"github.com/custodia-labs/graphgate/internal/core/ports/driven"
)

// DefaultRefreshMargin is the lead time before expiry at which proactive
// refresh begins.
const DefaultRefreshMargin = 5 * time.Minute

// refreshTimeout bounds a single detached refresh, covering the endpoint
// adapter's internal retries.
const refreshTimeout = 2 * time.Minute

// LifecycleManager orchestrates token cache lookups, proactive refresh
// scheduling and single-flight refresh coordination. It is the only
// component that mutates token records.
//
// Per (account, scope set) key the manager moves through
// valid -> near_expiry -> refreshing -> valid|failed. Keys are fully
// independent: there is no lock shared across accounts.
type LifecycleManager struct {
	cache    driven.TokenCache
	store    driven.TokenStore
	vault    driven.SecretVault
	endpoint driven.TokenEndpoint

	margin time.Duration
	now    func() time.Time
	log    zerolog.Logger

	// group deduplicates in-flight refreshes per key. Waiters that
	// abandon (context cancellation) do not abort the shared call.
	group singleflight.Group

	mu     sync.Mutex
	states map[string]domain.TokenState
	closed bool

	// wg tracks detached background refreshes for clean shutdown.
	wg sync.WaitGroup
}

// ManagerOption configures a LifecycleManager.
type ManagerOption func(*LifecycleManager)

// WithRefreshMargin overrides the near-expiry margin.
func WithRefreshMargin(margin time.Duration) ManagerOption {
	return func(m *LifecycleManager) {
		if margin > 0 {
			m.margin = margin
		}
	}
}

// WithClock overrides the time source so tests can cross expiry
// boundaries deterministically.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *LifecycleManager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the manager's logger.
func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *LifecycleManager) {
		m.log = log
	}
}

// NewLifecycleManager creates a manager. store may be nil when persistence
// is disabled; cache, vault and endpoint are required.
func NewLifecycleManager(
	cache driven.TokenCache,
	store driven.TokenStore,
	vault driven.SecretVault,
	endpoint driven.TokenEndpoint,
	opts ...ManagerOption,
) *LifecycleManager {
	m := &LifecycleManager{
		cache:    cache,
		store:    store,
		vault:    vault,
		endpoint: endpoint,
		margin:   DefaultRefreshMargin,
		now:      time.Now,
		log:      zerolog.Nop(),
		states:   make(map[string]domain.TokenState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetValidToken returns a bearer token for the key that is valid at the
// time of the call.
//
// Callers holding a still-valid token never block: a token inside the
// refresh margin is returned immediately while a background refresh runs.
// The call blocks only on cold start (no usable token anywhere) or while a
// refresh is in flight and the caller has nothing current to use. A caller
// that abandons the wait (ctx cancelled) leaves the in-flight refresh
// running; its result still lands in the cache for future callers.
func (m *LifecycleManager) GetValidToken(ctx context.Context, account domain.Account, scopes domain.ScopeSet) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return "", domain.ErrManagerClosed
	}

	key := domain.CacheKey(account, scopes)
	now := m.now()

	rec, ok := m.cache.Get(ctx, account, scopes)
	if !ok && m.store != nil {
		// Cache miss: fall back to the persisted record from a previous
		// process lifetime.
		if stored, err := m.store.Load(ctx, account, scopes); err == nil {
			rec, ok = stored, true
			if stored.ValidAt(now) {
				m.cache.Put(ctx, stored)
			}
		}
	}

	if ok && rec.ValidAt(now) {
		if rec.NearExpiryAt(now, m.margin) {
			m.setState(key, domain.StateNearExpiry)
			m.refreshInBackground(account, scopes)
		} else {
			m.setState(key, domain.StateValid)
		}
		return rec.AccessToken.Reveal(), nil
	}

	// No usable token: join (or start) the single-flight refresh and wait.
	refreshed, err := m.awaitRefresh(ctx, account, scopes)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken.Reveal(), nil
}

// State returns the current lifecycle state of a key. Keys never seen
// report StateFailed semantics via the zero value "".
func (m *LifecycleManager) State(account domain.Account, scopes domain.ScopeSet) domain.TokenState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[domain.CacheKey(account, scopes)]
}

// CommitGrant installs the result of an interactive grant (authorization
// code exchange): it stamps the record's identity, caches it, persists it
// and stores the rotated refresh token in the vault. AuthFlowService calls
// this after a successful callback.
func (m *LifecycleManager) CommitGrant(ctx context.Context, record domain.TokenRecord) error {
	if record.Account.IsZero() {
		return domain.ErrAccountNotFound
	}
	key := record.Key()
	m.cache.Put(ctx, record)
	if m.store != nil {
		if err := m.store.Save(ctx, record); err != nil {
			return err
		}
	}
	if !record.RefreshToken.IsEmpty() {
		if err := m.vault.StoreSecret(ctx, driven.RefreshTokenKey(record.Account, record.Scopes), record.RefreshToken); err != nil {
			return err
		}
	}
	m.setState(key, domain.StateValid)
	m.log.Info().Str("account", record.Account.ID()).Time("expires_at", record.ExpiresAt).Msg("grant committed")
	return nil
}

// Invalidate drops every trace of the key: cache entry, persisted record
// and the refresh token in the vault. The next request forces a fresh
// interactive flow.
func (m *LifecycleManager) Invalidate(ctx context.Context, account domain.Account, scopes domain.ScopeSet) {
	m.cache.Invalidate(ctx, account, scopes)
	if m.store != nil {
		if err := m.store.Delete(ctx, account, scopes); err != nil {
			m.log.Warn().Err(err).Str("account", account.ID()).Msg("delete persisted record")
		}
	}
	if err := m.vault.DeleteSecret(ctx, driven.RefreshTokenKey(account, scopes)); err != nil {
		m.log.Warn().Err(err).Str("account", account.ID()).Msg("delete refresh token")
	}
	m.setState(domain.CacheKey(account, scopes), domain.StateFailed)
}

// Close stops the manager and waits for in-flight background refreshes.
func (m *LifecycleManager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wg.Wait()
}

// awaitRefresh joins the single-flight refresh for the key and waits for
// either the shared result or caller cancellation.
func (m *LifecycleManager) awaitRefresh(ctx context.Context, account domain.Account, scopes domain.ScopeSet) (domain.TokenRecord, error) {
	key := domain.CacheKey(account, scopes)

	ch := m.group.DoChan(key, func() (any, error) {
		// The refresh owns its own deadline so an abandoning waiter
		// cannot abort it mid-flight.
		rctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		return m.refresh(rctx, account, scopes)
	})

	select {
	case <-ctx.Done():
		return domain.TokenRecord{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.TokenRecord{}, res.Err
		}
		rec, ok := res.Val.(domain.TokenRecord)
		if !ok {
			return domain.TokenRecord{}, errors.New("graphgate: unexpected refresh result type")
		}
		return rec, nil
	}
}

// refreshInBackground starts a detached refresh for the key. Concurrent
// triggers collapse into the one in-flight call via the singleflight group.
func (m *LifecycleManager) refreshInBackground(account domain.Account, scopes domain.ScopeSet) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	key := domain.CacheKey(account, scopes)
	go func() {
		defer m.wg.Done()
		_, err, _ := m.group.Do(key, func() (any, error) {
			rctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			defer cancel()
			return m.refresh(rctx, account, scopes)
		})
		if err != nil {
			m.log.Warn().Err(err).Str("account", account.ID()).Msg("background refresh failed")
		}
	}()
}

// refresh performs one refresh-token grant for the key and commits the
// result. It is only ever executed inside the key's singleflight slot.
func (m *LifecycleManager) refresh(ctx context.Context, account domain.Account, scopes domain.ScopeSet) (domain.TokenRecord, error) {
	key := domain.CacheKey(account, scopes)
	m.setState(key, domain.StateRefreshing)

	prev, havePrev := m.currentRecord(ctx, account, scopes)

	refreshToken := prev.RefreshToken
	if refreshToken.IsEmpty() {
		secret, err := m.vault.FetchSecret(ctx, driven.RefreshTokenKey(account, scopes))
		switch {
		case err == nil:
			refreshToken = secret
		case errors.Is(err, domain.ErrSecretNotFound):
			// No stored refresh token: fall through to ErrNoToken.
		default:
			m.setState(key, domain.StateFailed)
			return domain.TokenRecord{}, err
		}
	}
	if refreshToken.IsEmpty() {
		m.setState(key, domain.StateFailed)
		return domain.TokenRecord{}, domain.ErrNoToken
	}

	rec, err := m.endpoint.Refresh(ctx, refreshToken, scopes)
	if err != nil {
		if domain.IsAuthError(err) {
			// Terminal: the refresh token is dead. Clear everything so
			// the next request forces interactive re-authentication.
			m.log.Warn().Err(err).Str("account", account.ID()).Msg("refresh rejected, clearing credentials")
			m.Invalidate(ctx, account, scopes)
			return domain.TokenRecord{}, err
		}
		m.setState(key, domain.StateFailed)
		return domain.TokenRecord{}, err
	}

	rec.Account = account
	rec.Scopes = scopes

	// The provider may not rotate the refresh token; keep the old one.
	if rec.RefreshToken.IsEmpty() {
		rec.RefreshToken = refreshToken
	}

	// expires_at is monotonically non-decreasing per key: a provider
	// response that would move it backwards keeps the previous horizon.
	if havePrev && rec.ExpiresAt.Before(prev.ExpiresAt) {
		rec.ExpiresAt = prev.ExpiresAt
	}

	m.cache.Put(ctx, rec)
	if m.store != nil {
		if err := m.store.Save(ctx, rec); err != nil {
			m.log.Warn().Err(err).Str("account", account.ID()).Msg("persist refreshed record")
		}
	}
	if rec.RefreshToken != refreshToken {
		if err := m.vault.StoreSecret(ctx, driven.RefreshTokenKey(account, scopes), rec.RefreshToken); err != nil {
			m.log.Warn().Err(err).Str("account", account.ID()).Msg("store rotated refresh token")
		}
	}

	m.setState(key, domain.StateValid)
	m.log.Debug().Str("account", account.ID()).Time("expires_at", rec.ExpiresAt).Msg("token refreshed")
	return rec, nil
}

// currentRecord returns the freshest known record for the key, preferring
// the cache over the persisted store.
func (m *LifecycleManager) currentRecord(ctx context.Context, account domain.Account, scopes domain.ScopeSet) (domain.TokenRecord, bool) {
	if rec, ok := m.cache.Get(ctx, account, scopes); ok {
		return rec, true
	}
	if m.store != nil {
		if rec, err := m.store.Load(ctx, account, scopes); err == nil {
			return rec, true
		}
	}
	return domain.TokenRecord{}, false
}

func (m *LifecycleManager) setState(key string, state domain.TokenState) {
	m.mu.Lock()
	m.states[key] = state
	m.mu.Unlock()
}

// Provider binds the manager to one (account, scope set) pair, satisfying
// driven.TokenProvider for Graph consumers.
type Provider struct {
	manager *LifecycleManager
	account domain.Account
	scopes  domain.ScopeSet
}

// NewProvider returns a TokenProvider for the given key.
func (m *LifecycleManager) NewProvider(account domain.Account, scopes domain.ScopeSet) *Provider {
	return &Provider{manager: m, account: account, scopes: scopes}
}

// GetToken implements driven.TokenProvider.
func (p *Provider) GetToken(ctx context.Context) (string, error) {
	return p.manager.GetValidToken(ctx, p.account, p.scopes)
}
