// Package cache holds the Redis-backed shared cache of active markup rules.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkgtravel/service-booking/internal/domain/markup"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "booking:markup:active"

// RedisRuleCache implements markup.SharedCache. The rule set is stored under
// a key that embeds a version counter; Invalidate bumps the counter, so data
// written for an older version is never read again and simply expires.
type RedisRuleCache struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisRuleCache creates a shared rule cache. An empty prefix uses the default.
func NewRedisRuleCache(client *redis.Client, prefix string, logger *zap.Logger) *RedisRuleCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisRuleCache{client: client, prefix: prefix, logger: logger}
}

// NewClient opens a go-redis client and verifies it with a ping.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return client, nil
}

func (c *RedisRuleCache) versionKey() string { return c.prefix + ":version" }

func (c *RedisRuleCache) dataKey(token string) string { return c.prefix + ":rules:" + token }

// Load returns the current version token and, when present, the rules stored under it.
func (c *RedisRuleCache) Load(ctx context.Context) (string, []*markup.Rule, bool, error) {
	token, err := c.client.Get(ctx, c.versionKey()).Result()
	switch {
	case errors.Is(err, redis.Nil):
		token = "0"
	case err != nil:
		return "", nil, false, fmt.Errorf("failed to read rule cache version: %w", err)
	}

	data, err := c.client.Get(ctx, c.dataKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return token, nil, false, nil
	}
	if err != nil {
		return "", nil, false, fmt.Errorf("failed to read cached rules: %w", err)
	}

	rules, err := decodeRules(data)
	if err != nil {
		// A payload we cannot read is treated as a miss and overwritten on store.
		c.logger.Warn("discarding unreadable cached markup rules", zap.Error(err))
		return token, nil, false, nil
	}
	return token, rules, true, nil
}

// Store writes rules under token.
func (c *RedisRuleCache) Store(ctx context.Context, token string, rules []*markup.Rule, ttl time.Duration) error {
	data, err := encodeRules(rules)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.dataKey(token), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store cached rules: %w", err)
	}
	return nil
}

// Invalidate moves every instance to a new, empty version.
func (c *RedisRuleCache) Invalidate(ctx context.Context) error {
	version, err := c.client.Incr(ctx, c.versionKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to invalidate rule cache: %w", err)
	}
	c.logger.Debug("markup rule cache invalidated", zap.Int64("version", version))
	return nil
}

func encodeRules(rules []*markup.Rule) ([]byte, error) {
	snaps := make([]markup.Snapshot, len(rules))
	for i, r := range rules {
		snaps[i] = r.Snapshot()
	}
	data, err := json.Marshal(snaps)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rules: %w", err)
	}
	return data, nil
}

func decodeRules(data []byte) ([]*markup.Rule, error) {
	var snaps []markup.Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	rules := make([]*markup.Rule, len(snaps))
	for i, s := range snaps {
		rules[i] = markup.FromSnapshot(s)
	}
	return rules, nil
}
