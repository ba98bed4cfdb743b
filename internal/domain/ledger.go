package domain

import (
	"time"
)

// PointsTransaction is an append-only ledger entry. The user's cached
// loyalty-points balance always equals the sum of their deltas.
type PointsTransaction struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`

	// Delta is positive for awards, negative for redemptions.
	Delta int64 `json:"delta"`

	OrderID     string `json:"orderId,omitempty"`
	RewardID    string `json:"rewardId,omitempty"`
	Description string `json:"description,omitempty"`

	// IdempotencyKey guards against double-crediting on retries:
	// "issue:<orderID>:<ruleID>" for issuance awards,
	// "social:<mediaID>" for engagement awards. Empty means unguarded.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// User is the slice of the user aggregate this engine reads and writes:
// the cached points balance and the lifetime rewards-earned counter.
type User struct {
	ID            string    `json:"id"`
	LoyaltyPoints int64     `json:"loyaltyPoints"`
	RewardsEarned int64     `json:"rewardsEarned"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
