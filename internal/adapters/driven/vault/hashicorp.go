package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/custodia-labs/graphgate/internal/core/domain"
)

// secretField is the KV field each secret is stored under.
const secretField = "value"

// HashiCorpConfig holds connection settings for a HashiCorp Vault server.
type HashiCorpConfig struct {
	// Address is the Vault server URL.
	Address string
	// Token authenticates the client. Renewal is the operator's concern.
	Token domain.Secret
	// Mount is the KV v2 mount point, "secret" by default.
	Mount string
	// PathPrefix namespaces this service's keys within the mount.
	PathPrefix string
	// Timeout bounds a single Vault request.
	Timeout time.Duration
}

// HashiCorp is a SecretVault backed by a HashiCorp Vault KV v2 engine.
// Encryption at rest, audit and access policy live on the Vault side.
type HashiCorp struct {
	kv     *api.KVv2
	prefix string
}

// NewHashiCorp creates a Vault-backed secret store.
func NewHashiCorp(cfg HashiCorpConfig) (*HashiCorp, error) {
	apiCfg := api.DefaultConfig()
	apiCfg.Address = cfg.Address
	if cfg.Timeout > 0 {
		apiCfg.Timeout = cfg.Timeout
	}

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token.Reveal())

	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}
	prefix := cfg.PathPrefix
	if prefix == "" {
		prefix = "graphgate"
	}

	return &HashiCorp{kv: client.KVv2(mount), prefix: prefix}, nil
}

// StoreSecret implements driven.SecretVault.
func (h *HashiCorp) StoreSecret(ctx context.Context, key string, value domain.Secret) error {
	_, err := h.kv.Put(ctx, h.path(key), map[string]any{secretField: value.Reveal()})
	if err != nil {
		return &domain.VaultError{Op: "store", Key: key, Err: err}
	}
	return nil
}

// FetchSecret implements driven.SecretVault.
func (h *HashiCorp) FetchSecret(ctx context.Context, key string) (domain.Secret, error) {
	secret, err := h.kv.Get(ctx, h.path(key))
	if err != nil {
		if errors.Is(err, api.ErrSecretNotFound) {
			return "", &domain.VaultError{Op: "fetch", Key: key, Err: domain.ErrSecretNotFound}
		}
		return "", &domain.VaultError{Op: "fetch", Key: key, Err: err}
	}

	value, ok := secret.Data[secretField].(string)
	if !ok {
		return "", &domain.VaultError{Op: "fetch", Key: key, Err: errors.New("missing value field")}
	}
	return domain.Secret(value), nil
}

// DeleteSecret implements driven.SecretVault.
func (h *HashiCorp) DeleteSecret(ctx context.Context, key string) error {
	if err := h.kv.DeleteMetadata(ctx, h.path(key)); err != nil {
		return &domain.VaultError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (h *HashiCorp) path(key string) string {
	return h.prefix + "/" + key
}
