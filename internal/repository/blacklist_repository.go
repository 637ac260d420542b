package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const blacklistPrefix = "bl:"

// blacklistSentinel is the stored value; only key presence matters.
const blacklistSentinel = "revoked"

// BlacklistRepository records invalidated access-token identifiers in Redis.
// Entries carry the token's remaining lifetime as TTL and self-expire, so no
// cleanup pass is needed.
type BlacklistRepository struct {
	client *redis.Client
}

// NewBlacklistRepository constructs a blacklist repository.
func NewBlacklistRepository(client *redis.Client) *BlacklistRepository {
	return &BlacklistRepository{client: client}
}

// Add blacklists the key for the given TTL.
func (r *BlacklistRepository) Add(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, blacklistPrefix+key, blacklistSentinel, ttl).Err(); err != nil {
		return fmt.Errorf("blacklist set %s: %w", key, err)
	}
	return nil
}

// Contains reports whether the key is blacklisted. Errors are surfaced so
// validation can fail closed instead of treating an outage as "not revoked".
func (r *BlacklistRepository) Contains(ctx context.Context, key string) (bool, error) {
	if err := r.client.Get(ctx, blacklistPrefix+key).Err(); err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("blacklist get %s: %w", key, err)
	}
	return true, nil
}

// Remove drops a blacklist entry. Exists for operational tooling; the
// session flows rely on TTL expiry.
func (r *BlacklistRepository) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, blacklistPrefix+key).Err(); err != nil {
		return fmt.Errorf("blacklist del %s: %w", key, err)
	}
	return nil
}
