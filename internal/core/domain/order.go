package domain

import (
	"errors"
	"fmt"
	"time"
)

type OrderState string

const (
	OrderAddingItems      OrderState = "AddingItems"
	OrderArrangingPayment OrderState = "ArrangingPayment"
	OrderPaymentSettled   OrderState = "PaymentSettled"
	OrderPaymentDeclined  OrderState = "PaymentDeclined"
	OrderCancelled        OrderState = "Cancelled"
	OrderDelivered        OrderState = "Delivered"
)

var ErrInvalidTransition = errors.New("invalid order state transition")

// orderTransitions is the explicit edge table of the order lifecycle.
// Settlement is a one-way gate: no state reachable from PaymentSettled leads
// back to AddingItems, so a settled order can never be reopened for edits.
var orderTransitions = map[OrderState][]OrderState{
	OrderAddingItems:      {OrderArrangingPayment, OrderCancelled},
	OrderArrangingPayment: {OrderPaymentSettled, OrderPaymentDeclined, OrderCancelled},
	OrderPaymentDeclined:  {OrderArrangingPayment, OrderCancelled},
	OrderPaymentSettled:   {OrderDelivered, OrderCancelled},
	OrderDelivered:        {},
	OrderCancelled:        {},
}

// OrderLine references a variant and the quantity sold. StockReconciled
// flips to true once a SALE movement has been recorded for the line; the
// fulfillment hook never emits a second movement for a reconciled line.
type OrderLine struct {
	ID              string
	OrderID         string
	VariantID       string
	Quantity        int
	StockReconciled bool
}

type Order struct {
	ID        string
	State     OrderState
	Lines     []OrderLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransitionEvent records one traversal of one edge. Events are immutable
// and consumed at most once per (order, edge) pair; the fulfillment hook
// keys its idempotency off the order ID.
type TransitionEvent struct {
	OrderID    string
	From       OrderState
	To         OrderState
	OccurredAt time.Time
}

// CanTransition reports whether the edge from the order's current state to
// target exists in the lifecycle table.
func (o *Order) CanTransition(target OrderState) bool {
	for _, next := range orderTransitions[o.State] {
		if next == target {
			return true
		}
	}
	return false
}

// Transition moves the order along a named edge and returns the event for
// that traversal. A request for a missing edge, including any re-entry of
// the current state, fails with ErrInvalidTransition and changes nothing.
func (o *Order) Transition(target OrderState, now time.Time) (TransitionEvent, error) {
	if !o.CanTransition(target) {
		return TransitionEvent{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.State, target)
	}
	ev := TransitionEvent{
		OrderID:    o.ID,
		From:       o.State,
		To:         target,
		OccurredAt: now,
	}
	o.State = target
	o.UpdatedAt = now
	return ev, nil
}

// Settled reports whether the order has passed the one-way settlement gate.
func (o *Order) Settled() bool {
	return o.State == OrderPaymentSettled || o.State == OrderDelivered
}
