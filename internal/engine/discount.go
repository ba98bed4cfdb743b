package engine

import (
	"github.com/tablehouse/perks/internal/domain"
)

// PointsPerCurrencyUnit is the redemption exchange rate: points spent per
// minor currency unit of discount.
const PointsPerCurrencyUnit = 100

// Discount computes the discount, in minor currency units, a reward applies
// to an order subtotal. Pure function of its inputs.
//
// Percent discounts round half up. Fixed and points discounts are clamped to
// the subtotal. Free-item rewards return 0 here; the order pricing layer
// zeroes the item line itself.
func Discount(reward *domain.Reward, subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}

	var discount int64
	switch reward.RewardType {
	case domain.RewardPercentDiscount:
		discount = (subtotal*reward.RewardValue + 50) / 100
	case domain.RewardFixedDiscount:
		discount = reward.RewardValue
	case domain.RewardLoyaltyPoints:
		discount = reward.RewardValue / PointsPerCurrencyUnit
	case domain.RewardFreeItem:
		return 0
	default:
		return 0
	}

	if discount < 0 {
		return 0
	}
	if discount > subtotal {
		return subtotal
	}
	return discount
}
