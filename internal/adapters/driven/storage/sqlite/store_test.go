package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/graphgate/internal/core/domain"
)

var (
	storeAccount = domain.Account{TenantID: "contoso", UserID: "alice@contoso.com"}
	storeScopes  = domain.NewScopeSet("Mail.Read", "offline_access")
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.db")
	store, err := NewStore(path, "correct horse battery staple")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func storeRecord(token, refresh string) domain.TokenRecord {
	now := time.Now().Truncate(time.Second)
	return domain.TokenRecord{
		Account:      storeAccount,
		Scopes:       storeScopes,
		AccessToken:  domain.Secret(token),
		RefreshToken: domain.Secret(refresh),
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Hour),
	}
}

func TestStore_RequiresPassphrase(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "tokens.db"), "")
	assert.Error(t, err)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	rec := storeRecord("access-1", "refresh-1")

	require.NoError(t, store.Save(context.Background(), rec))

	got, err := store.Load(context.Background(), storeAccount, storeScopes)
	require.NoError(t, err)
	assert.Equal(t, "access-1", got.AccessToken.Reveal())
	assert.Equal(t, "refresh-1", got.RefreshToken.Reveal())
	assert.True(t, got.IssuedAt.Equal(rec.IssuedAt))
	assert.True(t, got.ExpiresAt.Equal(rec.ExpiresAt))
}

func TestStore_SaveWithoutRefreshToken(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Save(context.Background(), storeRecord("access-1", "")))

	got, err := store.Load(context.Background(), storeAccount, storeScopes)
	require.NoError(t, err)
	assert.True(t, got.RefreshToken.IsEmpty())
}

func TestStore_SaveUpserts(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Save(context.Background(), storeRecord("old", "old-r")))
	require.NoError(t, store.Save(context.Background(), storeRecord("new", "new-r")))

	got, err := store.Load(context.Background(), storeAccount, storeScopes)
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken.Reveal())

	accounts, err := store.Accounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, 1, "the upsert must not duplicate the key")
}

func TestStore_LoadMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Load(context.Background(), storeAccount, storeScopes)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestStore_Delete(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Save(context.Background(), storeRecord("access-1", "refresh-1")))

	require.NoError(t, store.Delete(context.Background(), storeAccount, storeScopes))

	_, err := store.Load(context.Background(), storeAccount, storeScopes)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestStore_TokensEncryptedAtRest(t *testing.T) {
	store, path := newTestStore(t)
	require.NoError(t, store.Save(context.Background(), storeRecord(
		"very-recognizable-access-token", "very-recognizable-refresh-token")))
	require.NoError(t, store.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "very-recognizable-access-token")
	assert.NotContains(t, string(raw), "very-recognizable-refresh-token")
}

func TestStore_WrongPassphraseFailsDecryption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")

	store, err := NewStore(path, "right passphrase")
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), storeRecord("access-1", "refresh-1")))
	require.NoError(t, store.Close())

	reopened, err := NewStore(path, "wrong passphrase")
	require.NoError(t, err, "opening succeeds; only decryption fails")
	defer reopened.Close()

	_, err = reopened.Load(context.Background(), storeAccount, storeScopes)
	assert.Error(t, err)
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")

	store, err := NewStore(path, "passphrase")
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), storeRecord("access-1", "refresh-1")))
	require.NoError(t, store.Close())

	reopened, err := NewStore(path, "passphrase")
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(context.Background(), storeAccount, storeScopes)
	require.NoError(t, err)
	assert.Equal(t, "access-1", got.AccessToken.Reveal())
}

func TestStore_Accounts(t *testing.T) {
	store, _ := newTestStore(t)

	other := storeRecord("access-2", "refresh-2")
	other.Account = domain.Account{TenantID: "contoso", UserID: "bob@contoso.com"}

	require.NoError(t, store.Save(context.Background(), storeRecord("access-1", "refresh-1")))
	require.NoError(t, store.Save(context.Background(), other))

	accounts, err := store.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "alice@contoso.com", accounts[0].UserID)
	assert.Equal(t, "bob@contoso.com", accounts[1].UserID)
}

func TestStore_IssuedTimes(t *testing.T) {
	store, _ := newTestStore(t)
	rec := storeRecord("access-1", "refresh-1")
	require.NoError(t, store.Save(context.Background(), rec))

	times, err := store.IssuedTimes(context.Background())
	require.NoError(t, err)
	require.Len(t, times, 1)
	assert.True(t, times[storeAccount.ID()].Equal(rec.IssuedAt))
}

func TestStore_ScopeSetsAreIndependentKeys(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Save(context.Background(), storeRecord("mail-token", "r1")))

	calScopes := domain.NewScopeSet("Calendars.Read")
	calRec := storeRecord("cal-token", "r2")
	calRec.Scopes = calScopes
	require.NoError(t, store.Save(context.Background(), calRec))

	mail, err := store.Load(context.Background(), storeAccount, storeScopes)
	require.NoError(t, err)
	cal, err := store.Load(context.Background(), storeAccount, calScopes)
	require.NoError(t, err)
	assert.Equal(t, "mail-token", mail.AccessToken.Reveal())
	assert.Equal(t, "cal-token", cal.AccessToken.Reveal())
}
