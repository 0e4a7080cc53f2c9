package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
)

// CacheRepository stores JSON encoded read models in Redis.
type CacheRepository struct {
	client *redis.Client
}

// NewCacheRepository constructs a cache repository. A nil client turns every
// read into a miss and every write into a no-op.
func NewCacheRepository(client *redis.Client) *CacheRepository {
	return &CacheRepository{client: client}
}

// Get retrieves and unmarshals the cached value into dest.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

// Set marshals value and stores it with the given TTL.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes the given keys. Missing keys are ignored.
func (r *CacheRepository) Delete(ctx context.Context, keys ...string) error {
	if r.client == nil || len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete %v: %w", keys, err)
	}
	return nil
}

// Generation reads an integer counter, returning 0 when the key is absent.
func (r *CacheRepository) Generation(ctx context.Context, key string) (int64, error) {
	if r.client == nil {
		return 0, nil
	}
	n, err := r.client.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get generation %s: %w", key, err)
	}
	return n, nil
}

// Bump atomically increments the counter at key and returns the new value.
func (r *CacheRepository) Bump(ctx context.Context, key string) (int64, error) {
	if r.client == nil {
		return 0, nil
	}
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return n, nil
}

const tokenBlacklistPrefix = "auth:blacklist:"

// TokenBlacklistRepository records revoked JWT IDs until the token would have expired.
type TokenBlacklistRepository struct {
	client *redis.Client
}

// NewTokenBlacklistRepository constructs the blacklist. With a nil client
// revocations are not persisted and no token is reported as revoked.
func NewTokenBlacklistRepository(client *redis.Client) *TokenBlacklistRepository {
	return &TokenBlacklistRepository{client: client}
}

// Revoke blacklists jti for ttl. Already expired tokens are skipped.
func (r *TokenBlacklistRepository) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if r.client == nil || ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, tokenBlacklistPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("blacklist token %s: %w", jti, err)
	}
	return nil
}

// IsRevoked reports whether jti has been blacklisted.
func (r *TokenBlacklistRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if r.client == nil {
		return false, nil
	}
	n, err := r.client.Exists(ctx, tokenBlacklistPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check token blacklist: %w", err)
	}
	return n > 0, nil
}
