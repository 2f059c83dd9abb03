package service

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/procurehub/approvald/internal/models"
)

// BulkError ties a per-order failure to the order it belongs to.
type BulkError struct {
	OrderID int64  `json:"orderId"`
	Message string `json:"message"`
}

// BulkResult is the shape of a completed bulk run. Partial failure is a
// first-class state here, never an error path: Total always equals
// Successful + Failed once the batch has been attempted.
type BulkResult struct {
	Code          ResultCode      `json:"-"`
	Ok            bool            `json:"ok"`
	Message       string          `json:"message"`
	Total         int             `json:"total"`
	Successful    int             `json:"successful"`
	Failed        int             `json:"failed"`
	Errors        []BulkError     `json:"errors,omitempty"`
	AppliedAmount decimal.Decimal `json:"appliedAmount"`
	Action        models.Action   `json:"action"`
}

// ProcessBulk validates one bulk token and applies its action to every member
// order independently, each in its own atomic unit of work. The bulk token is
// consumed only when at least one order succeeded, so an entirely failed
// batch stays retryable.
func (p *Processor) ProcessBulk(ctx context.Context, token string, requested models.Action) BulkResult {
	v, err := p.validator.ValidateBulk(ctx, token)
	if err != nil {
		log.Printf("[approval] validate bulk token: %v", err)
		return BulkResult{Code: CodeFailed, Message: "The request could not be processed. Please try again later."}
	}

	switch v.Outcome {
	case OutcomeNotFound:
		return BulkResult{Code: CodeTokenNotFound, Message: "This link is not valid."}
	case OutcomeExpired:
		return BulkResult{Code: CodeTokenExpired, Message: "This link has expired. Please request a fresh summary."}
	case OutcomeAlreadyUsed:
		return BulkResult{
			Code:    CodeTokenAlreadyUsed,
			Ok:      true,
			Message: fmt.Sprintf("This batch was already processed: the %s action has been applied.", v.Action),
		}
	}

	if v.Action != requested {
		log.Printf("[approval] bulk action mismatch: token=%s requested=%s", v.Action, requested)
		return BulkResult{Code: CodeActionMismatch, Message: "This link does not match the requested action."}
	}
	if err := v.Bulk.OrderIDs.Validate(); err != nil {
		log.Printf("[approval] bulk token %s payload invalid: %v", token, err)
		return BulkResult{Code: CodeFailed, Message: "This batch is malformed and cannot be processed."}
	}

	res := BulkResult{
		Code:          CodeApplied,
		Ok:            true,
		Total:         len(v.Bulk.OrderIDs),
		AppliedAmount: decimal.Zero,
		Action:        requested,
	}

	// One order's failure must not block or roll back another's success:
	// every member gets its own transaction via applyOne.
	for _, orderID := range v.Bulk.OrderIDs {
		r := p.applyOne(ctx, orderID, "", v.Bulk.UserID, requested)
		if r.Ok {
			res.Successful++
			if r.Order != nil && r.Code == CodeApplied {
				res.AppliedAmount = res.AppliedAmount.Add(r.Order.Amount)
			}
			continue
		}
		res.Failed++
		res.Errors = append(res.Errors, BulkError{OrderID: orderID, Message: r.Message})
	}

	if res.Successful >= 1 {
		if err := p.store.MarkBulkTokenUsed(ctx, token); err != nil {
			// The batch itself is done; a second click will replay as
			// idempotent no-ops per order.
			log.Printf("[approval] mark bulk token used: %v", err)
		}
	}

	res.Message = fmt.Sprintf("%d of %d orders processed (%s), %d failed.", res.Successful, res.Total, requested, res.Failed)
	return res
}
