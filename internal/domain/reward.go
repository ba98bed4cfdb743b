package domain

import (
	"time"
)

// RewardStatus is the lifecycle state of an issued reward.
//
// Transitions are monotonic: active rewards move to redeemed or expired and
// never come back. StatusPending is reserved for a two-phase issuance flow
// (reserve, then activate) that the current issuance path does not use.
type RewardStatus string

const (
	StatusPending  RewardStatus = "pending"
	StatusActive   RewardStatus = "active"
	StatusRedeemed RewardStatus = "redeemed"
	StatusExpired  RewardStatus = "expired"
)

// Terminal reports whether no further transition may leave the status.
func (s RewardStatus) Terminal() bool {
	return s == StatusRedeemed || s == StatusExpired
}

// Reward is an issued, single-use credential. The reward type, value and
// free item are copied from the rule at issuance time, so later rule edits
// never affect credentials already in customers' hands.
type Reward struct {
	ID      string `json:"id"`
	UserID  string `json:"userId"`
	RuleID  string `json:"ruleId"`
	OrderID string `json:"orderId"`
	TabID   string `json:"tabId,omitempty"`

	RewardType  RewardType `json:"rewardType"`
	RewardValue int64      `json:"rewardValue"`
	FreeItemID  string     `json:"freeItemId,omitempty"`

	Status RewardStatus `json:"status"`

	// Code is the globally unique, human-enterable credential.
	Code string `json:"code"`

	ExpiresAt         time.Time  `json:"expiresAt"`
	RedeemedAt        *time.Time `json:"redeemedAt,omitempty"`
	RedeemedInOrderID string     `json:"redeemedInOrderId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// ExpiredAt reports whether the reward's validity has lapsed at t,
// regardless of the stored status.
func (r *Reward) ExpiredAt(t time.Time) bool {
	return t.After(r.ExpiresAt)
}
