package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/custodia-labs/graphgate/internal/core/domain"
)

// redisKeyPrefix namespaces token entries in a shared Redis.
const redisKeyPrefix = "graphgate:token:"

// redisRecord is the wire form of a cached record. Token material is
// carried as raw strings here because domain.Secret marshals redacted;
// the entry lives only in Redis and expires with the token.
type redisRecord struct {
	TenantID     string    `json:"tenant_id"`
	UserID       string    `json:"user_id"`
	Scopes       []string  `json:"scopes"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Redis is a TokenCache backed by a shared Redis, for deployments running
// more than one gateway replica. Entries carry the token's own TTL so
// Redis evicts them at expiry.
type Redis struct {
	client *redis.Client
	now    func() time.Time
	log    zerolog.Logger
}

// NewRedis creates a Redis-backed token cache.
func NewRedis(client *redis.Client, log zerolog.Logger) *Redis {
	return &Redis{client: client, now: time.Now, log: log}
}

// Get implements driven.TokenCache.
func (r *Redis) Get(ctx context.Context, account domain.Account, scopes domain.ScopeSet) (domain.TokenRecord, bool) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+domain.CacheKey(account, scopes)).Result()
	if err == redis.Nil {
		return domain.TokenRecord{}, false
	} else if err != nil {
		r.log.Warn().Err(err).Msg("redis token lookup failed")
		return domain.TokenRecord{}, false
	}

	var rr redisRecord
	if err := json.Unmarshal([]byte(raw), &rr); err != nil {
		r.log.Warn().Err(err).Msg("corrupt redis token entry")
		return domain.TokenRecord{}, false
	}

	return domain.TokenRecord{
		Account:      domain.Account{TenantID: rr.TenantID, UserID: rr.UserID},
		Scopes:       domain.NewScopeSet(rr.Scopes...),
		AccessToken:  domain.Secret(rr.AccessToken),
		RefreshToken: domain.Secret(rr.RefreshToken),
		IssuedAt:     rr.IssuedAt,
		ExpiresAt:    rr.ExpiresAt,
	}, true
}

// Put implements driven.TokenCache.
func (r *Redis) Put(ctx context.Context, record domain.TokenRecord) {
	ttl := record.TTLAt(r.now())
	if ttl <= 0 {
		return
	}

	rr := redisRecord{
		TenantID:     record.Account.TenantID,
		UserID:       record.Account.UserID,
		Scopes:       record.Scopes,
		AccessToken:  record.AccessToken.Reveal(),
		RefreshToken: record.RefreshToken.Reveal(),
		IssuedAt:     record.IssuedAt,
		ExpiresAt:    record.ExpiresAt,
	}
	raw, err := json.Marshal(rr)
	if err != nil {
		r.log.Warn().Err(err).Msg("marshal redis token entry")
		return
	}

	if err := r.client.Set(ctx, redisKeyPrefix+record.Key(), raw, ttl).Err(); err != nil {
		r.log.Warn().Err(err).Msg("redis token store failed")
	}
}

// Invalidate implements driven.TokenCache.
func (r *Redis) Invalidate(ctx context.Context, account domain.Account, scopes domain.ScopeSet) {
	if err := r.client.Del(ctx, redisKeyPrefix+domain.CacheKey(account, scopes)).Err(); err != nil {
		r.log.Warn().Err(err).Msg("redis token delete failed")
	}
}
