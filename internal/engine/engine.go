package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/tablehouse/perks/internal/domain"
)

const (
	ruleCacheKey = "rules:purchase:active"
	ruleCacheTTL = 30 * time.Second
)

// Engine runs the issuance pipeline (eligibility -> selection -> issuance)
// and the redemption path. It is safe for concurrent use; all contended
// state lives in the repository.
type Engine struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	codePrefix string

	// Injected for deterministic tests.
	rand func() float64
	now  func() time.Time
}

// New creates an engine. Cache and bus may be nil; issuance then runs
// uncached and unannounced.
func New(repo domain.Repository, cache domain.Cache, bus domain.EventBus, cfg domain.EngineConfig) *Engine {
	prefix := cfg.CodePrefix
	if prefix == "" {
		prefix = "RWD-"
	}
	return &Engine{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		codePrefix: prefix,
		rand:       rand.Float64,
		now:        time.Now,
	}
}

// OrderCompleted is the completed-order event that triggers issuance.
// Subtotal is in minor currency units, before discounts and tips.
type OrderCompleted struct {
	OrderID  string `json:"orderId"`
	UserID   string `json:"userId"`
	TabID    string `json:"tabId,omitempty"`
	Subtotal int64  `json:"subtotal"`
}

// HandleOrderCompletion runs the full issuance pipeline for one completed
// order. Returns (reward, nil) when a reward was granted, (nil, nil) when
// nothing matched or the draw lost, and (nil, err) only on storage failure.
//
// A cap race lost at insert time is not an error: some concurrent issuance
// for the same user filled the last slot first, so the outcome is the same
// as losing the draw.
func (e *Engine) HandleOrderCompletion(ctx context.Context, order *OrderCompleted) (*domain.Reward, error) {
	if order.UserID == "" || order.OrderID == "" {
		return nil, nil
	}

	eligible, err := e.EligibleRules(ctx, order.UserID, order.Subtotal, e.now().UTC())
	if err != nil {
		return nil, err
	}

	rule := e.Select(eligible)
	if rule == nil {
		return nil, nil
	}

	reward, err := e.Issue(ctx, rule, order.UserID, order.OrderID, order.TabID)
	if errors.Is(err, domain.ErrCapReached) {
		slog.Debug("issuance lost cap race",
			"user_id", order.UserID,
			"rule_id", rule.ID,
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e.publish(ctx, domain.TopicRewardIssued, issuedEvent{
		RewardID:   reward.ID,
		UserID:     reward.UserID,
		RuleID:     reward.RuleID,
		OrderID:    reward.OrderID,
		Code:       reward.Code,
		RewardType: string(reward.RewardType),
		ExpiresAt:  reward.ExpiresAt,
	})

	slog.Info("reward issued",
		"reward_id", reward.ID,
		"user_id", reward.UserID,
		"rule_id", reward.RuleID,
		"order_id", reward.OrderID,
		"reward_type", reward.RewardType,
	)

	return reward, nil
}

// InvalidateRuleCache drops the cached rule list after a rule change.
func (e *Engine) InvalidateRuleCache(ctx context.Context) {
	if e.cache != nil {
		_ = e.cache.Delete(ctx, ruleCacheKey)
	}
}

func (e *Engine) publish(ctx context.Context, topic string, event any) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("event publish failed",
			"topic", topic,
			"error", err,
		)
	}
}

type issuedEvent struct {
	RewardID   string    `json:"rewardId"`
	UserID     string    `json:"userId"`
	RuleID     string    `json:"ruleId"`
	OrderID    string    `json:"orderId"`
	Code       string    `json:"code"`
	RewardType string    `json:"rewardType"`
	ExpiresAt  time.Time `json:"expiresAt"`
}
