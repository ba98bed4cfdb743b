package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tablehouse/perks/internal/domain"
)

// ValidateCode checks whether a code is redeemable by the given user.
// Check order is fixed: existence and ownership first (both surfaced as
// ErrNotFound so foreign codes are indistinguishable from nonexistent ones),
// then status, then expiry. An overdue reward is lazily flipped to expired
// on the way out.
func (e *Engine) ValidateCode(ctx context.Context, userID, code string) (*domain.Reward, error) {
	reward, err := e.repo.GetRewardByCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up code: %w", err)
	}

	if reward.UserID != userID {
		// Surfaced as not-found upstream; kept distinct for logging.
		return nil, domain.ErrNotOwner
	}

	switch reward.Status {
	case domain.StatusRedeemed:
		return nil, domain.ErrAlreadyRedeemed
	case domain.StatusExpired:
		return nil, domain.ErrExpired
	case domain.StatusActive:
	default:
		return nil, domain.ErrNotFound
	}

	now := e.now().UTC()
	if reward.ExpiredAt(now) {
		if _, err := e.repo.ExpireReward(ctx, reward.ID, now); err != nil {
			slog.Warn("lazy expiry failed",
				"reward_id", reward.ID,
				"error", err,
			)
		}
		return nil, domain.ErrExpired
	}

	return reward, nil
}

// Redeem consumes an active reward against an order. The storage layer's
// conditional update guarantees at most one caller wins; losers get the
// reason (already redeemed, expired, unknown) without anything changing.
func (e *Engine) Redeem(ctx context.Context, userID, rewardID, orderID string) (*domain.Reward, error) {
	reward, err := e.repo.GetReward(ctx, rewardID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reward: %w", err)
	}
	if reward.UserID != userID {
		return nil, domain.ErrNotOwner
	}

	now := e.now().UTC()
	if err := e.repo.RedeemReward(ctx, rewardID, orderID, now); err != nil {
		return nil, err
	}

	reward.Status = domain.StatusRedeemed
	reward.RedeemedAt = &now
	reward.RedeemedInOrderID = orderID

	e.publish(ctx, domain.TopicRewardRedeemed, redeemedEvent{
		RewardID: reward.ID,
		UserID:   reward.UserID,
		OrderID:  orderID,
		Code:     reward.Code,
	})

	slog.Info("reward redeemed",
		"reward_id", reward.ID,
		"user_id", reward.UserID,
		"order_id", orderID,
	)

	return reward, nil
}

type redeemedEvent struct {
	RewardID string `json:"rewardId"`
	UserID   string `json:"userId"`
	OrderID  string `json:"orderId"`
	Code     string `json:"code"`
}
