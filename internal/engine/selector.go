package engine

import (
	"github.com/tablehouse/perks/internal/domain"
)

// Select picks at most one rule to grant. A single random draw in [0,1) is
// shared across the whole candidate list: the first rule whose probability
// is at or above the draw wins. With candidates ordered by spend threshold
// descending, the most specific campaign gets first claim on the draw.
//
// The shared draw means a rule's effective grant rate depends on the rules
// ahead of it, not on its probability alone.
func (e *Engine) Select(rules []*domain.RewardRule) *domain.RewardRule {
	if len(rules) == 0 {
		return nil
	}

	draw := e.rand()
	for _, rule := range rules {
		if rule.Probability >= draw {
			return rule
		}
	}
	return nil
}
