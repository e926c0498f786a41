package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/dnc-guard/internal/domain/dnc"
)

const policyKey = "dnc:policy"

// PolicyCache keeps the shared copy of the DNC policy configuration.
type PolicyCache struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewPolicyCache creates the cache. A zero ttl defaults to one minute.
func NewPolicyCache(client *redis.Client, logger *zap.Logger, ttl time.Duration) (*PolicyCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &PolicyCache{client: client, logger: logger, ttl: ttl}, nil
}

// Get returns the cached configuration, or nil on a miss.
func (c *PolicyCache) Get(ctx context.Context) (*dnc.PolicyConfiguration, error) {
	data, err := c.client.Get(ctx, policyKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get policy: %w", err)
	}

	var cfg dnc.PolicyConfiguration
	if err := json.Unmarshal(data, &cfg); err != nil {
		c.logger.Warn("discarding undecodable cached policy", zap.Error(err))
		_ = c.client.Del(ctx, policyKey).Err()
		return nil, nil
	}
	return &cfg, nil
}

// Set stores cfg for the cache TTL.
func (c *PolicyCache) Set(ctx context.Context, cfg dnc.PolicyConfiguration) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	if err := c.client.Set(ctx, policyKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set policy: %w", err)
	}
	return nil
}

// Invalidate drops the cached copy so every instance reloads from the store.
func (c *PolicyCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, policyKey).Err(); err != nil {
		return fmt.Errorf("redis delete policy: %w", err)
	}
	return nil
}
