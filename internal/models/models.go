package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Action is the decision a token authorizes.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseAction converts a URL/DB string into an Action. Anything outside the
// closed set is rejected before it can reach a processor.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionApprove, ActionReject:
		return Action(s), nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// OrderStatus mirrors the state machine's classification of an order.
type OrderStatus string

const (
	StatusPending  OrderStatus = "pending"
	StatusApproved OrderStatus = "approved"
	StatusRejected OrderStatus = "rejected"
)

// RejectedLevel is the reserved sentinel level meaning "rejected".
// It is not a real approval level.
const RejectedLevel = 99

// Order is the approval record of a purchase order. Orders are created by the
// submission flow; this service only ever moves CurrentApprovalLevel and
// Status through approve/reject transitions.
type Order struct {
	ID                    int64           `json:"id"`
	Plant                 *string         `json:"plant,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
	RequesterEmail        string          `json:"requesterEmail"`
	RequiredApprovalLevel int             `json:"requiredApprovalLevel"`
	CurrentApprovalLevel  int             `json:"currentApprovalLevel"`
	Status                OrderStatus     `json:"status"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// Rejected reports whether the order carries the rejected sentinel level.
func (o Order) Rejected() bool {
	return o.CurrentApprovalLevel == RejectedLevel
}

// FullyApproved reports whether the order has collected every required approval.
func (o Order) FullyApproved() bool {
	return !o.Rejected() && o.CurrentApprovalLevel >= o.RequiredApprovalLevel
}

// Terminal reports whether no further transitions are valid.
func (o Order) Terminal() bool {
	return o.Rejected() || o.FullyApproved()
}

// ActionToken authorizes exactly one action on exactly one order, exactly once.
type ActionToken struct {
	Token     string     `json:"token"`
	OrderID   int64      `json:"orderId"`
	UserID    int64      `json:"userId"`
	Action    Action     `json:"action"`
	CreatedAt time.Time  `json:"createdAt"`
	IsUsed    bool       `json:"isUsed"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
}

// OrderIDList is the ordered set of orders a bulk token covers. Decoding
// validates the payload so a malformed DB blob fails fast and typed.
type OrderIDList []int64

func (l *OrderIDList) UnmarshalJSON(data []byte) error {
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("malformed order id list: %w", err)
	}
	if len(ids) == 0 {
		return fmt.Errorf("order id list is empty")
	}
	for _, id := range ids {
		if id <= 0 {
			return fmt.Errorf("order id list contains invalid id %d", id)
		}
	}
	*l = ids
	return nil
}

// Validate applies the same rules as UnmarshalJSON to an in-memory list.
func (l OrderIDList) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("order id list is empty")
	}
	for _, id := range l {
		if id <= 0 {
			return fmt.Errorf("order id list contains invalid id %d", id)
		}
	}
	return nil
}

// BulkActionToken authorizes one action applied independently to every order
// in OrderIDs. Partial success still consumes the token.
type BulkActionToken struct {
	Token     string      `json:"token"`
	OrderIDs  OrderIDList `json:"orderIds"`
	UserID    int64       `json:"userId"`
	Action    Action      `json:"action"`
	CreatedAt time.Time   `json:"createdAt"`
	IsUsed    bool        `json:"isUsed"`
	UsedAt    *time.Time  `json:"usedAt,omitempty"`
}

// Approver is a directory entry eligible to approve at a given tier.
type Approver struct {
	ID                 int64   `json:"id"`
	Name               string  `json:"name"`
	Email              string  `json:"email"`
	AuthorizationLevel int     `json:"authorizationLevel"`
	Plant              *string `json:"plant,omitempty"`
}

// EventType classifies downstream notification events.
type EventType string

const (
	EventOrderApproved EventType = "order.approved"
	EventOrderAdvanced EventType = "order.advanced"
	EventOrderRejected EventType = "order.rejected"
)

// Terminal reports whether the event records a final decision.
func (t EventType) Terminal() bool {
	return t == EventOrderApproved || t == EventOrderRejected
}

// Notification is the envelope handed to the dispatcher after a transition
// commits. Whatever renders and sends email consumes these from the topic.
type Notification struct {
	ID             uuid.UUID       `json:"id"`
	Type           EventType       `json:"type"`
	OrderID        int64           `json:"orderId"`
	ActorID        int64           `json:"actorId"`
	OrderStatus    OrderStatus     `json:"orderStatus"`
	ApprovalLevel  int             `json:"approvalLevel"`
	RequiredLevel  int             `json:"requiredLevel"`
	Amount         decimal.Decimal `json:"amount"`
	RequesterEmail string          `json:"requesterEmail"`
	NextApprovers  []Approver      `json:"nextApprovers,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}
