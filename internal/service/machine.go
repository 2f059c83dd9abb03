package service

import (
	"errors"
	"fmt"

	"github.com/procurehub/approvald/internal/models"
)

var (
	// ErrOrderRejected marks an approve attempt against an order that was
	// already rejected. Rejection wins; the approve token is moot.
	ErrOrderRejected = errors.New("order already rejected")

	// ErrOrderStateInvalid marks a stored level outside the valid range.
	ErrOrderStateInvalid = errors.New("order approval state invalid")
)

// Transition is the outcome of one state-machine step. NoOp means the order
// was already in the state the action asked for; no event is owed then.
type Transition struct {
	Order models.Order
	Event models.EventType
	NoOp  bool
}

func checkState(o models.Order) error {
	if o.RequiredApprovalLevel < 1 {
		return fmt.Errorf("%w: required level %d", ErrOrderStateInvalid, o.RequiredApprovalLevel)
	}
	if o.CurrentApprovalLevel == models.RejectedLevel {
		return nil
	}
	if o.CurrentApprovalLevel < 0 || o.CurrentApprovalLevel > o.RequiredApprovalLevel {
		return fmt.Errorf("%w: level %d of %d", ErrOrderStateInvalid, o.CurrentApprovalLevel, o.RequiredApprovalLevel)
	}
	return nil
}

// ApplyApprove advances an order one approval level. Re-approving a fully
// approved order is a tolerated no-op; approving a rejected order fails
// distinctly with ErrOrderRejected.
func ApplyApprove(o models.Order) (Transition, error) {
	if err := checkState(o); err != nil {
		return Transition{}, err
	}
	if o.Rejected() {
		return Transition{}, ErrOrderRejected
	}
	if o.CurrentApprovalLevel >= o.RequiredApprovalLevel {
		o.Status = models.StatusApproved
		return Transition{Order: o, NoOp: true}, nil
	}

	o.CurrentApprovalLevel++
	if o.CurrentApprovalLevel == o.RequiredApprovalLevel {
		o.Status = models.StatusApproved
		return Transition{Order: o, Event: models.EventOrderApproved}, nil
	}
	o.Status = models.StatusPending
	return Transition{Order: o, Event: models.EventOrderAdvanced}, nil
}

// ApplyReject moves an order to the rejected sentinel level regardless of its
// current level. Rejecting an already rejected order is a no-op.
func ApplyReject(o models.Order) (Transition, error) {
	if err := checkState(o); err != nil {
		return Transition{}, err
	}
	if o.Rejected() {
		o.Status = models.StatusRejected
		return Transition{Order: o, NoOp: true}, nil
	}
	o.CurrentApprovalLevel = models.RejectedLevel
	o.Status = models.StatusRejected
	return Transition{Order: o, Event: models.EventOrderRejected}, nil
}

// Apply dispatches to the transition for the given action.
func Apply(o models.Order, action models.Action) (Transition, error) {
	switch action {
	case models.ActionApprove:
		return ApplyApprove(o)
	case models.ActionReject:
		return ApplyReject(o)
	}
	return Transition{}, fmt.Errorf("unknown action %q", action)
}
