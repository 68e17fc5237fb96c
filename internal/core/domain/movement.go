package domain

import (
	"errors"
	"time"
)

type MovementKind string

const (
	MovementAdjustment   MovementKind = "ADJUSTMENT"
	MovementSale         MovementKind = "SALE"
	MovementCancellation MovementKind = "CANCELLATION"
	MovementReturn       MovementKind = "RETURN"
)

var (
	ErrZeroQuantity     = errors.New("stock movement quantity cannot be zero")
	ErrMissingLineRef   = errors.New("order-driven movement requires an order line reference")
	ErrForbiddenLineRef = errors.New("adjustment movement cannot reference an order line")
)

// StockMovement is one immutable signed delta against a variant's on-hand
// count. Rows are append-only: corrections happen by appending a
// compensating movement, never by updating or deleting an existing one.
type StockMovement struct {
	ID          string
	Seq         int64 // assigned by the store, defines insertion order
	VariantID   string
	Kind        MovementKind
	Quantity    int // positive = increase, negative = decrease
	OrderLineID *string
	CreatedAt   time.Time
}

// Shortfall describes a settlement-time deduction the non-negative floor
// rejected. Shortfalls are reported for operator follow-up; they never fail
// the order that produced them.
type Shortfall struct {
	OrderID     string
	OrderLineID string
	VariantID   string
	Requested   int
	OnHand      int
	OccurredAt  time.Time
}

// Validate enforces the shape rules shared by every append path: no
// zero-delta rows, and the order-line reference is present exactly when the
// movement is order-driven.
func (m StockMovement) Validate() error {
	if m.Quantity == 0 {
		return ErrZeroQuantity
	}
	switch m.Kind {
	case MovementAdjustment:
		if m.OrderLineID != nil {
			return ErrForbiddenLineRef
		}
	case MovementSale, MovementCancellation, MovementReturn:
		if m.OrderLineID == nil {
			return ErrMissingLineRef
		}
	}
	return nil
}
