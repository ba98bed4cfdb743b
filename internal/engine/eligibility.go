// Package engine implements the reward issuance and redemption pipeline:
// eligibility filtering, probabilistic selection, credential issuance,
// redemption validation and discount calculation.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tablehouse/perks/internal/domain"
)

// EligibleRules returns the purchase rules a completed order qualifies for,
// ordered by spend threshold descending. A rule qualifies when it is active,
// its threshold is at or below the order subtotal, its campaign schedule
// covers now, and the user has cap room left.
//
// Read-only: eligibility never issues anything. Storage errors propagate so
// the caller can decide; an order is never failed over them.
func (e *Engine) EligibleRules(ctx context.Context, userID string, spend int64, now time.Time) ([]*domain.RewardRule, error) {
	rules, err := e.activePurchaseRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load purchase rules: %w", err)
	}

	var eligible []*domain.RewardRule
	for _, rule := range rules {
		if rule.SpendThreshold > spend {
			continue
		}
		if !rule.InWindow(now) {
			continue
		}
		if rule.MaxPerUser > 0 {
			count, err := e.repo.CountUserRewardsForRule(ctx, userID, rule.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to count rewards for rule %s: %w", rule.ID, err)
			}
			if count >= rule.MaxPerUser {
				continue
			}
		}
		eligible = append(eligible, rule)
	}
	return eligible, nil
}

// activePurchaseRules loads the active purchase-rule list, cached briefly to
// keep the order-completion hot path off the rules table. The repository
// returns rules ordered by spend threshold descending and the cache
// preserves that order.
func (e *Engine) activePurchaseRules(ctx context.Context) ([]*domain.RewardRule, error) {
	if e.cache != nil {
		if data, err := e.cache.Get(ctx, ruleCacheKey); err == nil && data != nil {
			var rules []*domain.RewardRule
			if err := json.Unmarshal(data, &rules); err == nil {
				return rules, nil
			}
		}
	}

	rules, err := e.repo.ListActiveRules(ctx, domain.TriggerPurchase)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if data, err := json.Marshal(rules); err == nil {
			_ = e.cache.Set(ctx, ruleCacheKey, data, ruleCacheTTL)
		}
	}
	return rules, nil
}
