package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/procurehub/approvald/internal/models"
	"github.com/procurehub/approvald/internal/store"
)

// Dispatcher receives notification events after a transition commits. It is
// fire-and-forget: implementations log their own failures and never block a
// committed approval.
type Dispatcher interface {
	Notify(ctx context.Context, n models.Notification)
}

// ResultCode classifies the outcome of processing one token.
type ResultCode int

const (
	CodeApplied ResultCode = iota
	CodeAlreadyApplied
	CodeTokenNotFound
	CodeTokenExpired
	CodeTokenAlreadyUsed
	CodeActionMismatch
	CodeOrderNotFound
	CodeOrderRejected
	CodeFailed
)

// Result is what the action endpoint renders. Ok covers both a fresh
// transition and the tolerated idempotent repeat.
type Result struct {
	Code    ResultCode
	Ok      bool
	Message string
	Order   *models.Order
}

// Processor applies single and bulk token actions.
type Processor struct {
	store      store.Store
	validator  *Validator
	resolver   *Resolver
	dispatcher Dispatcher
}

func NewProcessor(st store.Store, dispatcher Dispatcher) *Processor {
	return &Processor{
		store:      st,
		validator:  NewValidator(st),
		resolver:   NewResolver(st),
		dispatcher: dispatcher,
	}
}

// Validator exposes the processor's validator, sharing its clock.
func (p *Processor) Validator() *Validator { return p.validator }

// Process validates one token and applies its transition inside one atomic
// unit of work. requested is the action named in the URL; it must match the
// action the token was minted for.
func (p *Processor) Process(ctx context.Context, token string, requested models.Action) Result {
	v, err := p.validator.ValidateAction(ctx, token)
	if err != nil {
		log.Printf("[approval] validate token: %v", err)
		return Result{Code: CodeFailed, Message: "The request could not be processed. Please try again later."}
	}

	switch v.Outcome {
	case OutcomeNotFound:
		return Result{Code: CodeTokenNotFound, Message: "This link is not valid."}
	case OutcomeExpired:
		return Result{Code: CodeTokenExpired, Message: "This link has expired. Please request a fresh approval link."}
	case OutcomeAlreadyUsed:
		return Result{
			Code:    CodeTokenAlreadyUsed,
			Ok:      true,
			Message: fmt.Sprintf("This order was already processed: the %s action has been applied.", v.Action),
		}
	}

	if v.Action != requested {
		// The URL asked for a different action than the token was bound to.
		// Worth a log line: it only happens on tampering or a mangled link.
		log.Printf("[approval] action mismatch for order %d: token=%s requested=%s", v.Single.OrderID, v.Action, requested)
		return Result{Code: CodeActionMismatch, Message: "This link does not match the requested action."}
	}

	return p.applyOne(ctx, v.Single.OrderID, token, v.Single.UserID, requested)
}

// applyOne runs the shared per-order unit of work and post-commit
// notification. consumeToken is empty for bulk members.
func (p *Processor) applyOne(ctx context.Context, orderID int64, consumeToken string, actorID int64, action models.Action) Result {
	var tr Transition
	order, err := p.store.ApplyDecision(ctx, orderID, consumeToken, func(o models.Order) (models.Order, error) {
		t, err := Apply(o, action)
		if err != nil {
			return models.Order{}, err
		}
		tr = t
		return t.Order, nil
	})

	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return Result{Code: CodeOrderNotFound, Message: fmt.Sprintf("Order %d was not found.", orderID)}
	case errors.Is(err, ErrOrderRejected):
		return Result{Code: CodeOrderRejected, Message: fmt.Sprintf("Order %d was already rejected; it can no longer be approved.", orderID)}
	case errors.Is(err, store.ErrTokenSpent):
		return Result{
			Code:    CodeTokenAlreadyUsed,
			Ok:      true,
			Message: fmt.Sprintf("This order was already processed: the %s action has been applied.", action),
		}
	case errors.Is(err, ErrOrderStateInvalid):
		log.Printf("[approval] order %d state invalid: %v", orderID, err)
		return Result{Code: CodeFailed, Message: fmt.Sprintf("Order %d is in an inconsistent state and was not changed.", orderID)}
	default:
		log.Printf("[approval] apply %s to order %d: %v", action, orderID, err)
		return Result{Code: CodeFailed, Message: "The request could not be processed. Please try again later."}
	}

	if tr.NoOp {
		msg := "Order is already fully approved."
		if order.Rejected() {
			msg = "Order is already rejected."
		}
		return Result{Code: CodeAlreadyApplied, Ok: true, Message: msg, Order: &order}
	}

	p.notify(ctx, order, tr.Event, actorID)

	var msg string
	switch tr.Event {
	case models.EventOrderApproved:
		msg = fmt.Sprintf("Order %d is now fully approved.", order.ID)
	case models.EventOrderAdvanced:
		msg = fmt.Sprintf("Order %d approved at level %d of %d; forwarded to the next approver.", order.ID, order.CurrentApprovalLevel, order.RequiredApprovalLevel)
	case models.EventOrderRejected:
		msg = fmt.Sprintf("Order %d has been rejected.", order.ID)
	}
	return Result{Code: CodeApplied, Ok: true, Message: msg, Order: &order}
}

// notify builds and hands off the post-commit event. Failures here never
// affect the already committed decision.
func (p *Processor) notify(ctx context.Context, order models.Order, event models.EventType, actorID int64) {
	if p.dispatcher == nil {
		return
	}
	n := models.Notification{
		ID:             uuid.New(),
		Type:           event,
		OrderID:        order.ID,
		ActorID:        actorID,
		OrderStatus:    order.Status,
		ApprovalLevel:  order.CurrentApprovalLevel,
		RequiredLevel:  order.RequiredApprovalLevel,
		Amount:         order.Amount,
		RequesterEmail: order.RequesterEmail,
		CreatedAt:      time.Now().UTC(),
	}
	if event == models.EventOrderAdvanced {
		next, err := p.resolver.NextApprovers(ctx, order)
		if err != nil {
			log.Printf("[approval] resolve next approvers for order %d: %v", order.ID, err)
		} else {
			n.NextApprovers = next
		}
	}
	p.dispatcher.Notify(ctx, n)
}
