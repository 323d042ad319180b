package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	salt, err := newSalt()
	require.NoError(t, err)
	key := deriveKey([]byte("passphrase"), salt)

	ct, nonce, err := encrypt(key, "the-token")
	require.NoError(t, err)
	assert.NotContains(t, string(ct), "the-token")

	plain, err := decrypt(key, ct, nonce)
	require.NoError(t, err)
	assert.Equal(t, "the-token", plain)
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	salt, err := newSalt()
	require.NoError(t, err)
	key := deriveKey([]byte("passphrase"), salt)

	ct, nonce, err := encrypt(key, "the-token")
	require.NoError(t, err)
	ct[0] ^= 0xff

	_, err = decrypt(key, ct, nonce)
	assert.Error(t, err, "GCM must reject modified ciphertext")
}

func TestDeriveKey_Deterministic(t *testing.T) {
	salt, err := newSalt()
	require.NoError(t, err)

	assert.Equal(t, deriveKey([]byte("pass"), salt), deriveKey([]byte("pass"), salt))
	assert.NotEqual(t, deriveKey([]byte("pass"), salt), deriveKey([]byte("other"), salt))
}

func TestEncrypt_NoncesAreUnique(t *testing.T) {
	salt, err := newSalt()
	require.NoError(t, err)
	key := deriveKey([]byte("passphrase"), salt)

	_, n1, err := encrypt(key, "token")
	require.NoError(t, err)
	_, n2, err := encrypt(key, "token")
	require.NoError(t, err)
	assert.NotEqual(t, n1, n2)
}
