package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/procurehub/approvald/internal/models"
	"github.com/procurehub/approvald/internal/store"
)

var (
	// ErrNoApprover means nobody in the directory holds the order's next tier.
	ErrNoApprover = errors.New("no approver available for next tier")

	// ErrOrderTerminal means the order no longer accepts decisions.
	ErrOrderTerminal = errors.New("order is in a terminal state")
)

// Minter issues single-use and bulk action tokens.
type Minter struct {
	store    store.Store
	resolver *Resolver
}

func NewMinter(st store.Store) *Minter {
	return &Minter{store: st, resolver: NewResolver(st)}
}

// DecisionTokens is an approve/reject pair minted for one approver, the two
// links an approval request email carries.
type DecisionTokens struct {
	Approver     models.Approver `json:"approver"`
	ApproveToken string          `json:"approveToken"`
	RejectToken  string          `json:"rejectToken"`
}

// newToken returns 32 bytes of crypto-random material, hex encoded. That is
// double the 16-byte floor the tokens need to stay unguessable in email links.
func newToken() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("token entropy: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// MintDecisionTokens resolves the order's next approver and mints the
// approve/reject token pair addressed to them.
func (m *Minter) MintDecisionTokens(ctx context.Context, orderID int64) (DecisionTokens, error) {
	order, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return DecisionTokens{}, err
	}
	if order.Terminal() {
		return DecisionTokens{}, ErrOrderTerminal
	}
	candidates, err := m.resolver.NextApprovers(ctx, order)
	if err != nil {
		return DecisionTokens{}, fmt.Errorf("resolve approvers: %w", err)
	}
	if len(candidates) == 0 {
		return DecisionTokens{}, ErrNoApprover
	}
	approver := candidates[0]

	out := DecisionTokens{Approver: approver}
	now := time.Now().UTC()
	for _, action := range []models.Action{models.ActionApprove, models.ActionReject} {
		tok, err := newToken()
		if err != nil {
			return DecisionTokens{}, err
		}
		t := models.ActionToken{
			Token:     tok,
			OrderID:   order.ID,
			UserID:    approver.ID,
			Action:    action,
			CreatedAt: now,
		}
		if err := m.store.CreateActionToken(ctx, t); err != nil {
			return DecisionTokens{}, fmt.Errorf("persist %s token: %w", action, err)
		}
		if action == models.ActionApprove {
			out.ApproveToken = tok
		} else {
			out.RejectToken = tok
		}
	}
	return out, nil
}

// MintBulkToken binds one action over an ordered set of orders to one
// approver, for the pending-orders digest email. Every member order must
// exist and still be open.
func (m *Minter) MintBulkToken(ctx context.Context, approverID int64, action models.Action, orderIDs models.OrderIDList) (string, error) {
	if err := orderIDs.Validate(); err != nil {
		return "", err
	}
	if _, err := m.store.GetApprover(ctx, approverID); err != nil {
		return "", fmt.Errorf("approver %d: %w", approverID, err)
	}
	for _, id := range orderIDs {
		order, err := m.store.GetOrder(ctx, id)
		if err != nil {
			return "", fmt.Errorf("order %d: %w", id, err)
		}
		if order.Terminal() {
			return "", fmt.Errorf("order %d: %w", id, ErrOrderTerminal)
		}
	}

	tok, err := newToken()
	if err != nil {
		return "", err
	}
	t := models.BulkActionToken{
		Token:     tok,
		OrderIDs:  orderIDs,
		UserID:    approverID,
		Action:    action,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.CreateBulkActionToken(ctx, t); err != nil {
		return "", fmt.Errorf("persist bulk token: %w", err)
	}
	return tok, nil
}
