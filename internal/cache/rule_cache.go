package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"advisory-service/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const activeRulesKey = "advisory:rules:active"

// RuleSource loads ACTIVE rules from the store of record.
type RuleSource interface {
	ListActive(ctx context.Context) ([]models.AdvisoryRule, error)
}

// RuleCache is a read-through Redis cache of the ACTIVE rule set.
// Eligibility is always re-checked at read time, so a cached rule whose
// effective window has closed never reaches the matcher.
type RuleCache struct {
	client *redis.Client
	source RuleSource
	ttl    time.Duration
	log    *zap.Logger
}

func NewRuleCache(client *redis.Client, source RuleSource, ttl time.Duration, log *zap.Logger) *RuleCache {
	return &RuleCache{client: client, source: source, ttl: ttl, log: log}
}

// EligibleRules returns the rules eligible at now, in priority order.
func (c *RuleCache) EligibleRules(ctx context.Context, now time.Time) ([]models.AdvisoryRule, error) {
	rules, err := c.activeRules(ctx)
	if err != nil {
		return nil, err
	}

	eligible := make([]models.AdvisoryRule, 0, len(rules))
	for i := range rules {
		if rules[i].IsEligible(now) {
			eligible = append(eligible, rules[i])
		}
	}
	return eligible, nil
}

func (c *RuleCache) activeRules(ctx context.Context) ([]models.AdvisoryRule, error) {
	raw, err := c.client.Get(ctx, activeRulesKey).Bytes()
	switch {
	case err == nil:
		var rules []models.AdvisoryRule
		if jsonErr := json.Unmarshal(raw, &rules); jsonErr == nil {
			return rules, nil
		} else {
			c.log.Warn("discarding undecodable rule cache entry", zap.Error(jsonErr))
		}
	case errors.Is(err, redis.Nil):
	default:
		// Redis trouble must not stop the pipeline; read through to the database.
		c.log.Warn("rule cache unavailable, reading from store", zap.Error(err))
	}

	rules, err := c.source.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}

	payload, err := json.Marshal(rules)
	if err != nil {
		c.log.Warn("failed to encode rules for cache", zap.Error(err))
		return rules, nil
	}
	if err := c.client.Set(ctx, activeRulesKey, payload, c.ttl).Err(); err != nil {
		c.log.Warn("failed to populate rule cache", zap.Error(err))
	}
	return rules, nil
}

// Invalidate drops the cached rule set; the next read reloads it.
func (c *RuleCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, activeRulesKey).Err(); err != nil {
		return fmt.Errorf("failed to invalidate rule cache: %w", err)
	}
	return nil
}
