package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/procurehub/approvald/internal/models"
	"github.com/procurehub/approvald/internal/store"
)

// TokenTTL is how long an action token validates after it was minted.
const TokenTTL = 72 * time.Hour

// Outcome classifies a token lookup. Only OutcomeValid carries a usable
// payload; the others are expected states, not errors.
type Outcome int

const (
	OutcomeValid Outcome = iota
	OutcomeNotFound
	OutcomeExpired
	OutcomeAlreadyUsed
)

// Validation is the read-only result of checking a token. For AlreadyUsed the
// Action field still reports what the token was minted for, so callers can
// render an idempotent response instead of a generic error.
type Validation struct {
	Outcome Outcome
	Action  models.Action
	Single  *models.ActionToken
	Bulk    *models.BulkActionToken
}

// Validator resolves tokens to typed outcomes without mutating anything.
type Validator struct {
	store store.Store
	now   func() time.Time
}

func NewValidator(st store.Store) *Validator {
	return &Validator{store: st, now: time.Now}
}

// expired treats a createdAt in the future as expired too: a skewed clock must
// never widen the validity window.
func (v *Validator) expired(createdAt time.Time) bool {
	age := v.now().Sub(createdAt)
	return age > TokenTTL || age < 0
}

// ValidateAction checks a single-order token. The returned error is reserved
// for storage failures; every expected state maps to an Outcome.
func (v *Validator) ValidateAction(ctx context.Context, token string) (Validation, error) {
	t, err := v.store.GetActionToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return Validation{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return Validation{}, fmt.Errorf("lookup action token: %w", err)
	}
	if v.expired(t.CreatedAt) {
		return Validation{Outcome: OutcomeExpired, Action: t.Action}, nil
	}
	if t.IsUsed {
		return Validation{Outcome: OutcomeAlreadyUsed, Action: t.Action}, nil
	}
	return Validation{Outcome: OutcomeValid, Action: t.Action, Single: &t}, nil
}

// ValidateBulk checks a bulk token with the same expiry and replay rules.
func (v *Validator) ValidateBulk(ctx context.Context, token string) (Validation, error) {
	t, err := v.store.GetBulkActionToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return Validation{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return Validation{}, fmt.Errorf("lookup bulk token: %w", err)
	}
	if v.expired(t.CreatedAt) {
		return Validation{Outcome: OutcomeExpired, Action: t.Action}, nil
	}
	if t.IsUsed {
		return Validation{Outcome: OutcomeAlreadyUsed, Action: t.Action}, nil
	}
	return Validation{Outcome: OutcomeValid, Action: t.Action, Bulk: &t}, nil
}
