package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/graphgate/internal/adapters/driven/cache"
	"github.com/custodia-labs/graphgate/internal/adapters/driven/oauth"
	"github.com/custodia-labs/graphgate/internal/adapters/driven/storage/sqlite"
	secretvault "github.com/custodia-labs/graphgate/internal/adapters/driven/vault"
	"github.com/custodia-labs/graphgate/internal/adapters/driving/httpapi"
	"github.com/custodia-labs/graphgate/internal/config"
	"github.com/custodia-labs/graphgate/internal/connectors/microsoft"
	"github.com/custodia-labs/graphgate/internal/core/domain"
	"github.com/custodia-labs/graphgate/internal/core/ports/driven"
	"github.com/custodia-labs/graphgate/internal/core/services"
	"github.com/custodia-labs/graphgate/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Log.Level = "debug"
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	},
}

//nolint:funlen // sequential wiring of all dependencies
func runServe(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	vault, closeVault, err := buildVault(cfg, logger.Component(log, "vault"))
	if err != nil {
		return err
	}
	defer closeVault()

	// Seed the client secret from the environment so fresh deployments
	// work without a manual `graphgate secret set`.
	if secret := config.ClientSecret(); !secret.IsEmpty() {
		if err := vault.StoreSecret(ctx, driven.SecretKeyClientSecret, secret); err != nil {
			return fmt.Errorf("seed client secret: %w", err)
		}
	}

	tokenCache, closeCache := buildCache(cfg, logger.Component(log, "cache"))
	defer closeCache()

	var store *sqlite.Store
	if cfg.Storage.Path != "" {
		passphrase := config.StoragePassphrase()
		if passphrase.IsEmpty() {
			return fmt.Errorf("GRAPHGATE_STORAGE_PASSPHRASE is required when storage is enabled")
		}
		store, err = sqlite.NewStore(cfg.Storage.Path, passphrase)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	endpoint := oauth.NewClient(oauth.Config{
		TenantID:    cfg.OAuth.TenantID,
		ClientID:    cfg.OAuth.ClientID,
		RedirectURI: cfg.OAuth.RedirectURI,
	}, vault, logger.Component(log, "oauth"))

	scopes := domain.NewScopeSet(cfg.OAuth.Scopes...)
	if len(scopes) == 0 {
		scopes = domain.NewScopeSet(oauth.DefaultScopes...)
	}

	var tokenStore driven.TokenStore
	if store != nil {
		tokenStore = store
	}
	manager := services.NewLifecycleManager(
		tokenCache, tokenStore, vault, endpoint,
		services.WithRefreshMargin(cfg.Lifecycle.RefreshMargin),
		services.WithLogger(logger.Component(log, "lifecycle")),
	)
	defer manager.Close()

	flow := services.NewAuthFlowService(
		endpoint, endpoint, microsoft.NewIdentityResolver(), manager,
		cfg.OAuth.TenantID, scopes,
		logger.Component(log, "authflow"),
	)
	defer flow.Close()

	opts := []httpapi.Option{}
	if store != nil {
		opts = append(opts, httpapi.WithTokenDirectory(store))
	}
	server := httpapi.NewServer(httpapi.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		GracefulTimeout: cfg.Server.GracefulTimeout,
	}, flow, manager, scopes, logger.Component(log, "http"), opts...)

	return server.Start(ctx)
}

// buildVault constructs the configured SecretVault backend.
func buildVault(cfg *config.Config, log zerolog.Logger) (driven.SecretVault, func(), error) {
	switch cfg.Vault.Backend {
	case "memory":
		return secretvault.NewMemory(), func() {}, nil
	case "file":
		fv, err := secretvault.NewFile(cfg.Vault.FilePath, log)
		if err != nil {
			return nil, nil, err
		}
		return fv, func() { _ = fv.Close() }, nil
	case "hashicorp":
		hv, err := secretvault.NewHashiCorp(secretvault.HashiCorpConfig{
			Address:    cfg.Vault.Address,
			Token:      config.VaultToken(),
			Mount:      cfg.Vault.Mount,
			PathPrefix: cfg.Vault.PathPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return hv, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown vault backend %q", cfg.Vault.Backend)
	}
}

// buildCache constructs the configured TokenCache backend.
func buildCache(cfg *config.Config, log zerolog.Logger) (driven.TokenCache, func()) {
	if cfg.Cache.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: config.RedisPassword().Reveal(),
			DB:       cfg.Cache.RedisDB,
		})
		return cache.NewRedis(client, log), func() { _ = client.Close() }
	}
	mem := cache.NewMemory()
	return mem, mem.Close
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
