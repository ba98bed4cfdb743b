package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy. Storage failures are
// wrapped with %w and surfaced as-is; these sentinels classify everything
// the caller can act on.
var (
	// ErrNotFound covers unknown codes, rewards, rules and users.
	ErrNotFound = errors.New("not found")

	// ErrNotOwner means the code belongs to another user. The API surfaces
	// it identically to ErrNotFound so existence is never leaked.
	ErrNotOwner = errors.New("reward belongs to another user")

	// ErrExpired means the reward's validity has lapsed.
	ErrExpired = errors.New("reward expired")

	// ErrAlreadyRedeemed means the one-time transition already happened.
	ErrAlreadyRedeemed = errors.New("reward already redeemed")

	// ErrCapReached means the per-user redemption cap blocked issuance.
	ErrCapReached = errors.New("per-user redemption cap reached")

	// ErrAlreadyIssued means the order already produced a reward under
	// this rule; the retried issuance is a replay, not a new grant.
	ErrAlreadyIssued = errors.New("reward already issued for this order")

	// ErrCodeGeneration means code-collision retries were exhausted.
	ErrCodeGeneration = errors.New("could not generate a unique reward code")

	// ErrInsufficientPoints rejects a points redemption that would drive
	// the balance negative.
	ErrInsufficientPoints = errors.New("insufficient points balance")

	// ErrDuplicate signals an idempotency-key replay; the original write
	// already took effect.
	ErrDuplicate = errors.New("duplicate operation")
)

// ValidationError reports a malformed rule, rejected at creation time.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule: %s %s", e.Field, e.Reason)
}
