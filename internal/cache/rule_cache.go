// Package cache provides a Redis read-through cache for active approval
// rules, keyed per tenant and module. Rule mutations invalidate the key.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-approvals/internal/engine"
)

// RuleCache caches active-rule lists. Cache failures are never fatal:
// misses and errors both fall back to the loader.
type RuleCache struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewRuleCache creates a RuleCache. A nil client disables caching entirely
// (every read goes to the loader).
func NewRuleCache(client *redis.Client, ttl time.Duration, log zerolog.Logger) *RuleCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RuleCache{client: client, ttl: ttl, log: log}
}

func ruleKey(tenantID string, module engine.ModuleType) string {
	return fmt.Sprintf("approvals:rules:%s:%s", tenantID, module)
}

// GetActiveRules returns cached rules for the tenant+module, loading and
// caching them on a miss.
func (c *RuleCache) GetActiveRules(
	ctx context.Context,
	tenantID string,
	module engine.ModuleType,
	load func(context.Context) ([]*engine.ApprovalRule, error),
) ([]*engine.ApprovalRule, error) {
	if c.client == nil {
		return load(ctx)
	}

	key := ruleKey(tenantID, module)
	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var rules []*engine.ApprovalRule
		if err := json.Unmarshal(data, &rules); err == nil {
			return rules, nil
		}
		// Corrupt entry: drop it and fall through to the loader.
		c.client.Del(ctx, key)
	} else if err != redis.Nil {
		c.log.Warn().Err(err).Str("key", key).Msg("rule cache read failed")
	}

	rules, err := load(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(rules); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("rule cache write failed")
		}
	}
	return rules, nil
}

// Invalidate drops the cached rule list for one tenant+module.
func (c *RuleCache) Invalidate(ctx context.Context, tenantID string, module engine.ModuleType) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, ruleKey(tenantID, module)).Err(); err != nil {
		c.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("rule cache invalidation failed")
	}
}
