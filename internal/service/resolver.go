package service

import (
	"context"

	"github.com/procurehub/approvald/internal/models"
	"github.com/procurehub/approvald/internal/store"
)

// Resolver finds the candidate approvers for an order's next approval tier.
type Resolver struct {
	store store.Store
}

func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// NextApprovers returns the approvers holding tier currentLevel+1, same-plant
// candidates first, then plant-agnostic ones, id ascending within each group.
// Terminal orders owe nobody a notification and resolve to an empty list.
func (r *Resolver) NextApprovers(ctx context.Context, o models.Order) ([]models.Approver, error) {
	if o.Terminal() {
		return nil, nil
	}
	return r.store.FindApproversByTier(ctx, o.CurrentApprovalLevel+1, o.Plant)
}
