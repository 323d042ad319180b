// Package config loads service configuration from a TOML file with
// environment overrides. A local .env file is honoured for development.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/graphgate/internal/core/domain"
)

//nolint:gochecknoglobals // load .env exactly once per process
var once sync.Once

func loadDotenv() {
	once.Do(func() {
		if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("Warning: could not load .env file: %v", err)
		}
	})
}

// Defaults.
const (
	defaultServerAddr      = "localhost:8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultGracefulTimeout = 5 * time.Second
	defaultRefreshMargin   = 5 * time.Minute
	defaultStoragePath     = "graphgate.db"
	defaultVaultFile       = "graphgate-secrets.json"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `toml:"addr"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	GracefulTimeout time.Duration `toml:"graceful_timeout"`
}

// OAuthConfig holds the app registration settings.
type OAuthConfig struct {
	TenantID    string   `toml:"tenant_id"`
	ClientID    string   `toml:"client_id"`
	RedirectURI string   `toml:"redirect_uri"`
	Scopes      []string `toml:"scopes"`
}

// LifecycleConfig tunes the token lifecycle manager.
type LifecycleConfig struct {
	RefreshMargin time.Duration `toml:"refresh_margin"`
}

// CacheConfig selects the token cache backend.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend string `toml:"backend"`
	// RedisAddr is used when Backend is "redis".
	RedisAddr string `toml:"redis_addr"`
	RedisDB   int    `toml:"redis_db"`
}

// VaultConfig selects the secret store backend.
type VaultConfig struct {
	// Backend is "file", "hashicorp" or "memory".
	Backend string `toml:"backend"`
	// FilePath is the secrets file for the "file" backend.
	FilePath string `toml:"file_path"`
	// Address/Mount/PathPrefix configure the "hashicorp" backend; the
	// Vault token comes from the VAULT_TOKEN environment variable only.
	Address    string `toml:"address"`
	Mount      string `toml:"mount"`
	PathPrefix string `toml:"path_prefix"`
}

// StorageConfig holds persisted token store settings. The passphrase is
// environment-only so it never lands in a config file.
type StorageConfig struct {
	// Path is the SQLite database path; empty disables persistence.
	Path string `toml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	OAuth     OAuthConfig     `toml:"oauth"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Cache     CacheConfig     `toml:"cache"`
	Vault     VaultConfig     `toml:"vault"`
	Storage   StorageConfig   `toml:"storage"`
	Log       LogConfig       `toml:"log"`
}

// Load reads the TOML file at path (skipped when path is empty or the file
// does not exist), applies environment overrides, then defaults, and
// validates.
func Load(path string) (*Config, error) {
	loadDotenv()

	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// Config file is optional.
		default:
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ClientSecret returns the confidential client secret from the
// environment. It is never part of the config file.
func ClientSecret() domain.Secret {
	loadDotenv()
	return domain.Secret(os.Getenv("GRAPHGATE_CLIENT_SECRET"))
}

// StoragePassphrase returns the passphrase protecting the persisted token
// store.
func StoragePassphrase() domain.Secret {
	loadDotenv()
	return domain.Secret(os.Getenv("GRAPHGATE_STORAGE_PASSPHRASE"))
}

// VaultToken returns the HashiCorp Vault token.
func VaultToken() domain.Secret {
	loadDotenv()
	return domain.Secret(os.Getenv("VAULT_TOKEN"))
}

// RedisPassword returns the Redis password for the redis cache backend.
func RedisPassword() domain.Secret {
	loadDotenv()
	return domain.Secret(os.Getenv("GRAPHGATE_REDIS_PASSWORD"))
}

func (c *Config) applyEnv() {
	setString(&c.Server.Addr, "GRAPHGATE_SERVER_ADDR")
	setString(&c.OAuth.TenantID, "GRAPHGATE_TENANT_ID")
	setString(&c.OAuth.ClientID, "GRAPHGATE_CLIENT_ID")
	setString(&c.OAuth.RedirectURI, "GRAPHGATE_REDIRECT_URI")
	if v := os.Getenv("GRAPHGATE_SCOPES"); v != "" {
		c.OAuth.Scopes = strings.Fields(v)
	}
	setDuration(&c.Lifecycle.RefreshMargin, "GRAPHGATE_REFRESH_MARGIN")
	setString(&c.Cache.Backend, "GRAPHGATE_CACHE_BACKEND")
	setString(&c.Cache.RedisAddr, "GRAPHGATE_REDIS_ADDR")
	setString(&c.Vault.Backend, "GRAPHGATE_VAULT_BACKEND")
	setString(&c.Vault.FilePath, "GRAPHGATE_VAULT_FILE")
	setString(&c.Vault.Address, "VAULT_ADDR")
	setString(&c.Storage.Path, "GRAPHGATE_STORAGE_PATH")
	setString(&c.Log.Level, "GRAPHGATE_LOG_LEVEL")
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultServerAddr
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = defaultReadTimeout
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = defaultWriteTimeout
	}
	if c.Server.GracefulTimeout <= 0 {
		c.Server.GracefulTimeout = defaultGracefulTimeout
	}
	if c.OAuth.TenantID == "" {
		c.OAuth.TenantID = "common"
	}
	if c.Lifecycle.RefreshMargin <= 0 {
		c.Lifecycle.RefreshMargin = defaultRefreshMargin
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Vault.Backend == "" {
		c.Vault.Backend = "file"
	}
	if c.Vault.FilePath == "" {
		c.Vault.FilePath = defaultVaultFile
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks settings that cannot have sensible defaults.
func (c *Config) Validate() error {
	if c.OAuth.ClientID == "" {
		return errors.New("config: oauth.client_id is required (GRAPHGATE_CLIENT_ID)")
	}
	if c.OAuth.RedirectURI == "" {
		return errors.New("config: oauth.redirect_uri is required (GRAPHGATE_REDIRECT_URI)")
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return errors.New("config: cache.redis_addr is required for the redis backend")
	}
	switch c.Vault.Backend {
	case "memory", "file", "hashicorp":
	default:
		return fmt.Errorf("config: unknown vault backend %q", c.Vault.Backend)
	}
	if c.Vault.Backend == "hashicorp" && c.Vault.Address == "" {
		return errors.New("config: vault.address is required for the hashicorp backend (VAULT_ADDR)")
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		} else {
			log.Printf("Invalid duration in %s: %s, keeping %s", env, v, *dst)
		}
	}
}
