package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/graphgate/internal/core/domain"
)

var (
	cacheAccount = domain.Account{TenantID: "contoso", UserID: "alice@contoso.com"}
	cacheScopes  = domain.NewScopeSet("Mail.Read", "offline_access")
)

func cacheRecord(token string, ttl time.Duration) domain.TokenRecord {
	now := time.Now()
	return domain.TokenRecord{
		Account:     cacheAccount,
		Scopes:      cacheScopes,
		AccessToken: domain.Secret(token),
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
}

func TestMemory_PutGet(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	m.Put(context.Background(), cacheRecord("token-1", time.Hour))

	rec, ok := m.Get(context.Background(), cacheAccount, cacheScopes)
	require.True(t, ok)
	assert.Equal(t, "token-1", rec.AccessToken.Reveal())
}

func TestMemory_Miss(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	_, ok := m.Get(context.Background(), cacheAccount, cacheScopes)
	assert.False(t, ok)
}

func TestMemory_PutOverwrites(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	m.Put(context.Background(), cacheRecord("token-1", time.Hour))
	m.Put(context.Background(), cacheRecord("token-2", time.Hour))

	rec, ok := m.Get(context.Background(), cacheAccount, cacheScopes)
	require.True(t, ok)
	assert.Equal(t, "token-2", rec.AccessToken.Reveal())
}

func TestMemory_SkipsExpiredRecords(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	m.Put(context.Background(), cacheRecord("stale", -time.Minute))

	_, ok := m.Get(context.Background(), cacheAccount, cacheScopes)
	assert.False(t, ok, "a record already past expiry must not be stored")
}

func TestMemory_EntriesExpireWithToken(t *testing.T) {
	now := time.Now()
	m := NewMemory(WithMemoryClock(func() time.Time { return now }))
	defer m.Close()

	m.Put(context.Background(), cacheRecord("short-lived", 30*time.Millisecond))

	_, ok := m.Get(context.Background(), cacheAccount, cacheScopes)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := m.Get(context.Background(), cacheAccount, cacheScopes)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestMemory_Invalidate(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	m.Put(context.Background(), cacheRecord("token-1", time.Hour))
	m.Invalidate(context.Background(), cacheAccount, cacheScopes)

	_, ok := m.Get(context.Background(), cacheAccount, cacheScopes)
	assert.False(t, ok)
}

func TestMemory_KeysAreScopeSensitive(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	m.Put(context.Background(), cacheRecord("token-1", time.Hour))

	_, ok := m.Get(context.Background(), cacheAccount, domain.NewScopeSet("Calendars.Read"))
	assert.False(t, ok, "a different scope set is a different cache key")
}
