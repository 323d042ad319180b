// Package vault provides SecretVault implementations: in-memory for tests
// and single-process use, a watched secrets file, and HashiCorp Vault KV
// v2 for production deployments.
package vault

import (
	"context"
	"sync"

	"github.com/custodia-labs/graphgate/internal/core/domain"
)

// Memory is a process-local SecretVault. It is the default for development
// and the substitute vault in tests.
type Memory struct {
	mu      sync.RWMutex
	secrets map[string]domain.Secret
}

// NewMemory creates an empty in-memory vault.
func NewMemory() *Memory {
	return &Memory{secrets: make(map[string]domain.Secret)}
}

// StoreSecret implements driven.SecretVault.
func (m *Memory) StoreSecret(_ context.Context, key string, value domain.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[key] = value
	return nil
}

// FetchSecret implements driven.SecretVault.
func (m *Memory) FetchSecret(_ context.Context, key string) (domain.Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.secrets[key]
	if !ok {
		return "", &domain.VaultError{Op: "fetch", Key: key, Err: domain.ErrSecretNotFound}
	}
	return value, nil
}

// DeleteSecret implements driven.SecretVault. Deleting a missing key is
// not an error.
func (m *Memory) DeleteSecret(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, key)
	return nil
}
