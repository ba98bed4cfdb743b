// Package ledger owns loyalty-point balances. Every balance change goes
// through an append-only transaction record; the cached balance on the user
// row always equals the sum of the user's deltas.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tablehouse/perks/internal/domain"
)

// Service is the sole writer of point balances.
type Service struct {
	repo domain.Repository
	bus  domain.EventBus
}

// New creates the ledger service. Bus may be nil.
func New(repo domain.Repository, bus domain.EventBus) *Service {
	return &Service{repo: repo, bus: bus}
}

// Award credits points to a user. The idempotency key makes retries safe:
// a replayed key performs no write and returns the current balance with
// ErrDuplicate, which callers may treat as success.
func (s *Service) Award(ctx context.Context, userID string, points int64, description, idempotencyKey string) (int64, error) {
	if points <= 0 {
		return 0, fmt.Errorf("award must be positive, got %d", points)
	}

	balance, err := s.repo.AppendPoints(ctx, &domain.PointsTransaction{
		ID:             uuid.New().String(),
		UserID:         userID,
		Delta:          points,
		Description:    description,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now().UTC(),
	})
	if errors.Is(err, domain.ErrDuplicate) {
		slog.Debug("award replayed",
			"user_id", userID,
			"idempotency_key", idempotencyKey,
		)
		return balance, err
	}
	if err != nil {
		return 0, err
	}

	s.publish(ctx, domain.TopicPointsAwarded, pointsEvent{
		UserID:  userID,
		Points:  points,
		Balance: balance,
	})

	slog.Info("points awarded",
		"user_id", userID,
		"points", points,
		"balance", balance,
	)
	return balance, nil
}

// RedeemForDiscount debits points spent on an order discount. A debit that
// would drive the balance negative fails with ErrInsufficientPoints and
// writes nothing. The debit is keyed by order, so a retried checkout call
// debits once and replays return the current balance with ErrDuplicate.
func (s *Service) RedeemForDiscount(ctx context.Context, userID string, points int64, orderID string) (int64, error) {
	if points <= 0 {
		return 0, fmt.Errorf("redemption must be positive, got %d", points)
	}

	balance, err := s.repo.AppendPoints(ctx, &domain.PointsTransaction{
		ID:             uuid.New().String(),
		UserID:         userID,
		Delta:          -points,
		OrderID:        orderID,
		Description:    "redeemed for order discount",
		IdempotencyKey: "redeem:" + orderID,
		CreatedAt:      time.Now().UTC(),
	})
	if errors.Is(err, domain.ErrDuplicate) {
		slog.Debug("points redemption replayed",
			"user_id", userID,
			"order_id", orderID,
		)
		return balance, err
	}
	if err != nil {
		return 0, err
	}

	slog.Info("points redeemed",
		"user_id", userID,
		"points", points,
		"order_id", orderID,
		"balance", balance,
	)
	return balance, nil
}

// Balance returns the user's current points balance. Unknown users have a
// zero balance rather than an error; they just have not earned yet.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return user.LoyaltyPoints, nil
}

// History returns the user's most recent ledger entries, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*domain.PointsTransaction, error) {
	return s.repo.ListPointsTransactions(ctx, userID, limit)
}

func (s *Service) publish(ctx context.Context, topic string, event any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("event publish failed",
			"topic", topic,
			"error", err,
		)
	}
}

type pointsEvent struct {
	UserID  string `json:"userId"`
	Points  int64  `json:"points"`
	Balance int64  `json:"balance"`
}
