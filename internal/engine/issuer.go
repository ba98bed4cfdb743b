package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tablehouse/perks/internal/domain"
)

// codeAlphabet deliberately includes every uppercase letter and digit; the
// codes are machine-checked, not read over the phone.
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	codeLength       = 8
	codeMaxAttempts  = 5
	defaultValidDays = 30
)

// Issue creates and persists a reward for the given rule. The reward copies
// the rule's type and value so later rule edits never change credentials
// already issued. Points rewards post their ledger credit inside the same
// storage transaction. Retries for the same order and rule are no-ops that
// return the original credential.
//
// The unique index on the code column is the collision arbiter: on a
// duplicate the insert is retried with a fresh code, up to codeMaxAttempts
// before giving up with ErrCodeGeneration.
func (e *Engine) Issue(ctx context.Context, rule *domain.RewardRule, userID, orderID, tabID string) (*domain.Reward, error) {
	now := e.now().UTC()

	validity := rule.ValidityDays
	if validity <= 0 {
		validity = defaultValidDays
	}

	for attempt := 0; attempt < codeMaxAttempts; attempt++ {
		code, err := e.generateCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate reward code: %w", err)
		}

		reward := &domain.Reward{
			ID:          uuid.New().String(),
			UserID:      userID,
			RuleID:      rule.ID,
			OrderID:     orderID,
			TabID:       tabID,
			RewardType:  rule.RewardType,
			RewardValue: rule.RewardValue,
			FreeItemID:  rule.FreeItemID,
			Status:      domain.StatusActive,
			Code:        code,
			ExpiresAt:   now.AddDate(0, 0, validity),
			CreatedAt:   now,
		}

		var points *domain.PointsTransaction
		if rule.RewardType == domain.RewardLoyaltyPoints {
			points = &domain.PointsTransaction{
				ID:             uuid.New().String(),
				UserID:         userID,
				Delta:          rule.RewardValue,
				OrderID:        orderID,
				RewardID:       reward.ID,
				Description:    "points reward: " + rule.Name,
				IdempotencyKey: fmt.Sprintf("issue:%s:%s", orderID, rule.ID),
				CreatedAt:      now,
			}
		}

		err = e.repo.CreateReward(ctx, reward, rule.MaxPerUser, points)
		if errors.Is(err, domain.ErrDuplicate) {
			continue
		}
		if errors.Is(err, domain.ErrAlreadyIssued) {
			// Redelivered issuance: the order already got its reward
			// under this rule. Hand back the original credential.
			slog.Debug("issuance replayed",
				"order_id", orderID,
				"rule_id", rule.ID,
			)
			return e.repo.GetRewardForOrder(ctx, orderID, rule.ID)
		}
		if err != nil {
			return nil, err
		}
		return reward, nil
	}

	return nil, domain.ErrCodeGeneration
}

// generateCode builds a credential code: configured prefix plus eight
// characters from crypto/rand.
func (e *Engine) generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, codeLength)
	for i, b := range buf {
		code[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return e.codePrefix + string(code), nil
}
