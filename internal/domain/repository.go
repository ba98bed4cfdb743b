// Package domain defines the core types and interfaces for Perks.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
//
// The three writes the spec treats as race-prone are modelled as single
// conditional operations rather than check-then-act sequences: CreateReward
// enforces the per-user cap atomically, RedeemReward is a compare-and-swap
// on status, and AppendPoints is guarded by an idempotency key.
type Repository interface {
	// Rule operations
	SaveRule(ctx context.Context, rule *RewardRule) error
	GetRule(ctx context.Context, ruleID string) (*RewardRule, error)
	ListRules(ctx context.Context) ([]*RewardRule, error)
	ListActiveRules(ctx context.Context, trigger TriggerType) ([]*RewardRule, error)
	DeleteRule(ctx context.Context, ruleID string) error

	// CreateReward persists an issued reward as one atomic unit: the
	// per-user cap guard (maxPerUser > 0), the reward row, and, for
	// points rewards, the ledger entry and user counters. Returns
	// ErrCapReached when the guard blocks, ErrDuplicate when the code
	// collides with an existing one, and ErrAlreadyIssued when the
	// (order, rule) pair already produced a reward. Nothing else in the
	// unit takes effect on any of the three.
	CreateReward(ctx context.Context, reward *Reward, maxPerUser int, points *PointsTransaction) error

	GetReward(ctx context.Context, rewardID string) (*Reward, error)
	GetRewardByCode(ctx context.Context, code string) (*Reward, error)

	// GetRewardForOrder retrieves the reward an order produced under a
	// rule, for replay handling after ErrAlreadyIssued.
	GetRewardForOrder(ctx context.Context, orderID, ruleID string) (*Reward, error)
	ListUserRewards(ctx context.Context, userID string) ([]*Reward, error)

	// CountUserRewardsForRule counts a user's active plus redeemed
	// rewards for a rule; expired credentials give the slot back.
	CountUserRewardsForRule(ctx context.Context, userID, ruleID string) (int, error)

	// RedeemReward flips active -> redeemed, conditioned on the reward
	// still being active and unexpired at write time. Exactly one of any
	// set of concurrent callers succeeds.
	RedeemReward(ctx context.Context, rewardID, orderID string, now time.Time) error

	// ExpireReward lazily flips active -> expired for a single overdue
	// reward. Reports whether the row changed.
	ExpireReward(ctx context.Context, rewardID string, now time.Time) (bool, error)

	// ExpireDue sweeps all overdue active rewards in one pass and returns
	// how many were expired. Idempotent.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)

	// AppendPoints appends a ledger entry and moves the cached balance in
	// the same transaction, returning the new balance. A replayed
	// idempotency key returns the current balance with ErrDuplicate; a
	// negative delta that would underflow returns ErrInsufficientPoints.
	AppendPoints(ctx context.Context, entry *PointsTransaction) (int64, error)

	GetUser(ctx context.Context, userID string) (*User, error)
	ListPointsTransactions(ctx context.Context, userID string, limit int) ([]*PointsTransaction, error)

	// Stats returns issuance and redemption totals for the admin surface.
	Stats(ctx context.Context) (*Stats, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Stats summarizes engine activity for the administration surface.
type Stats struct {
	Rules          int                    `json:"rules"`
	ActiveRules    int                    `json:"activeRules"`
	RewardsByState map[RewardStatus]int64 `json:"rewardsByState"`
	PointsAwarded  int64                  `json:"pointsAwarded"`
	PointsRedeemed int64                  `json:"pointsRedeemed"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
