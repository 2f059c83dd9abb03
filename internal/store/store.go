package store

import (
	"context"
	"errors"

	"github.com/procurehub/approvald/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrTokenSpent is returned when a consume races another request that
	// already marked the token used.
	ErrTokenSpent = errors.New("token already spent")
)

// DecideFunc computes the next approval state for an order. It runs inside
// the order's locked transaction and must be pure: no I/O, no side effects.
type DecideFunc func(models.Order) (models.Order, error)

// Store is the persistence contract for the approval engine. All writers to
// order levels and token consumption state go through it; nothing else may
// mutate those columns.
type Store interface {
	// GetOrder is an unlocked read for display and validation purposes.
	GetOrder(ctx context.Context, id int64) (models.Order, error)

	// ApplyDecision runs one atomic unit of work: lock the order row,
	// re-read it, run decide, persist the result, and (when consumeToken is
	// non-empty) mark that single-use token used, all in one transaction.
	// Any error rolls the whole unit back and leaves the token unused.
	ApplyDecision(ctx context.Context, orderID int64, consumeToken string, decide DecideFunc) (models.Order, error)

	CreateActionToken(ctx context.Context, t models.ActionToken) error
	GetActionToken(ctx context.Context, token string) (models.ActionToken, error)

	CreateBulkActionToken(ctx context.Context, t models.BulkActionToken) error
	GetBulkActionToken(ctx context.Context, token string) (models.BulkActionToken, error)
	// MarkBulkTokenUsed consumes a bulk token after its batch has been
	// attempted. It is not part of any order transaction.
	MarkBulkTokenUsed(ctx context.Context, token string) error

	GetApprover(ctx context.Context, id int64) (models.Approver, error)
	// FindApproversByTier returns approvers holding the given tier, same-plant
	// entries before plant-agnostic ones, id ascending within a tie. A nil
	// plant matches only plant-agnostic approvers.
	FindApproversByTier(ctx context.Context, tier int, plant *string) ([]models.Approver, error)

	Ping(ctx context.Context) error
}
