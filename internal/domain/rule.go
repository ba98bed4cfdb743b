package domain

import (
	"fmt"
	"time"
)

// TriggerType identifies what kind of customer activity a rule reacts to.
type TriggerType string

const (
	// TriggerPurchase rules are evaluated on order completion.
	TriggerPurchase TriggerType = "purchase"

	// TriggerSocialEngagement rules are consumed by the external
	// engagement-polling collaborator, never by the purchase path.
	TriggerSocialEngagement TriggerType = "social_engagement"
)

// RewardType identifies what an issued reward grants.
type RewardType string

const (
	RewardPercentDiscount RewardType = "percent_discount"
	RewardFixedDiscount   RewardType = "fixed_discount"
	RewardFreeItem        RewardType = "free_item"
	RewardLoyaltyPoints   RewardType = "loyalty_points"
)

// CampaignWindow is a date range during which a rule may grant rewards.
// Both bounds are inclusive.
type CampaignWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the window.
func (w CampaignWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// SocialConfig configures a social-engagement rule. It is read by the
// engagement poller feeding the points ledger, not by the purchase path.
type SocialConfig struct {
	Hashtag           string `json:"hashtag"`
	MinEngagement     int    `json:"minEngagement"`
	MaxPostsPerPeriod int    `json:"maxPostsPerPeriod"`
	PeriodKind        string `json:"periodKind"` // "day", "week", "month"
	PointsAwarded     int64  `json:"pointsAwarded"`
}

// RewardRule is an administrator-defined campaign: when a qualifying order
// completes, the rule may grant a reward with the configured probability.
//
// Monetary fields are in minor currency units (cents).
type RewardRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Active bool `json:"active"`

	// SpendThreshold is the minimum order subtotal to qualify.
	SpendThreshold int64 `json:"spendThreshold"`

	Trigger TriggerType   `json:"trigger"`
	Social  *SocialConfig `json:"social,omitempty"`

	RewardType  RewardType `json:"rewardType"`
	RewardValue int64      `json:"rewardValue"`
	FreeItemID  string     `json:"freeItemId,omitempty"`

	// Probability is the chance in [0,1] of granting once eligible.
	Probability float64 `json:"probability"`

	// MaxPerUser caps live (active or redeemed) rewards per user for this
	// rule. Zero means unlimited.
	MaxPerUser int `json:"maxPerUser,omitempty"`

	// ValidityDays is the credential lifetime once issued.
	ValidityDays int `json:"validityDays"`

	// Windows is the campaign schedule. When empty, the legacy
	// StartDate/EndDate pair applies; when both are absent the rule is
	// always active (subject to Active).
	Windows   []CampaignWindow `json:"windows,omitempty"`
	StartDate *time.Time       `json:"startDate,omitempty"`
	EndDate   *time.Time       `json:"endDate,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate rejects malformed rules at creation time, so evaluation never
// has to deal with them.
func (r *RewardRule) Validate() error {
	if r.Name == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if r.SpendThreshold < 0 {
		return &ValidationError{Field: "spendThreshold", Reason: "must not be negative"}
	}
	if r.Probability < 0 || r.Probability > 1 {
		return &ValidationError{Field: "probability", Reason: "must be in [0,1]"}
	}
	if r.ValidityDays <= 0 {
		return &ValidationError{Field: "validityDays", Reason: "must be positive"}
	}
	if r.MaxPerUser < 0 {
		return &ValidationError{Field: "maxPerUser", Reason: "must not be negative"}
	}
	if r.RewardValue < 0 {
		return &ValidationError{Field: "rewardValue", Reason: "must not be negative"}
	}
	switch r.Trigger {
	case TriggerPurchase:
	case TriggerSocialEngagement:
		if r.Social == nil {
			return &ValidationError{Field: "social", Reason: "is required for social_engagement rules"}
		}
	default:
		return &ValidationError{Field: "trigger", Reason: fmt.Sprintf("unknown trigger type %q", r.Trigger)}
	}
	switch r.RewardType {
	case RewardPercentDiscount, RewardFixedDiscount, RewardLoyaltyPoints:
	case RewardFreeItem:
		if r.FreeItemID == "" {
			return &ValidationError{Field: "freeItemId", Reason: "is required for free_item rewards"}
		}
	default:
		return &ValidationError{Field: "rewardType", Reason: fmt.Sprintf("unknown reward type %q", r.RewardType)}
	}
	for i, w := range r.Windows {
		if w.To.Before(w.From) {
			return &ValidationError{Field: "windows", Reason: fmt.Sprintf("window %d ends before it starts", i)}
		}
	}
	if r.StartDate != nil && r.EndDate != nil && r.EndDate.Before(*r.StartDate) {
		return &ValidationError{Field: "endDate", Reason: "must not be before startDate"}
	}
	return nil
}

// EffectiveWindows normalizes the two schedule representations into one.
// A non-empty Windows list takes precedence over the legacy pair; a legacy
// pair with an open bound is folded into a single window with a far bound.
// Nil means the rule has no schedule and is always active.
func (r *RewardRule) EffectiveWindows() []CampaignWindow {
	if len(r.Windows) > 0 {
		return r.Windows
	}
	if r.StartDate == nil && r.EndDate == nil {
		return nil
	}
	w := CampaignWindow{From: farPast, To: farFuture}
	if r.StartDate != nil {
		w.From = *r.StartDate
	}
	if r.EndDate != nil {
		w.To = *r.EndDate
	}
	return []CampaignWindow{w}
}

// InWindow reports whether the rule's campaign schedule covers now.
func (r *RewardRule) InWindow(now time.Time) bool {
	windows := r.EffectiveWindows()
	if len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		if w.Contains(now) {
			return true
		}
	}
	return false
}

var (
	farPast   = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	farFuture = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
)
