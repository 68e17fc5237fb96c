package port

import (
	"context"
	"errors"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

var (
	ErrVariantNotFound   = errors.New("variant not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrStaleOrderState   = errors.New("order state changed concurrently")
)

// LedgerStore is the append-only movement log plus the derived on-hand
// counter. Implementations must make AppendMovement a single per-variant
// unit of atomicity: the floor check, the counter update and the row insert
// either all happen or none do, and two appends against the same variant
// serialize. There is no store-wide lock; appends against distinct variants
// are free to run in parallel.
type LedgerStore interface {
	// AppendMovement persists the movement and applies its quantity to the
	// variant's cached on-hand counter. Returns the stored movement (with
	// its sequence assigned) and the variant's resulting on-hand value.
	// Fails with ErrInsufficientStock, writing nothing, if the delta would
	// drive a tracked variant below zero.
	AppendMovement(ctx context.Context, m domain.StockMovement) (domain.StockMovement, int, error)

	// ListMovements returns one page of a variant's history in insertion
	// order, oldest first, plus the total row count for that variant.
	ListMovements(ctx context.Context, variantID string, skip, take int) ([]domain.StockMovement, int, error)

	// SumMovements rebuilds the on-hand value from history alone.
	SumMovements(ctx context.Context, variantID string) (int, error)

	// SaleRecorded reports whether a SALE movement already exists for the
	// order line.
	SaleRecorded(ctx context.Context, orderLineID string) (bool, error)

	// ReversalRecorded reports whether a compensating CANCELLATION or
	// RETURN movement already exists for the order line.
	ReversalRecorded(ctx context.Context, orderLineID string) (bool, error)

	// GetSaleMovement fetches the SALE movement recorded for the order
	// line, or ErrMovementNotFound if the line was never deducted.
	GetSaleMovement(ctx context.Context, orderLineID string) (*domain.StockMovement, error)
}

var ErrMovementNotFound = errors.New("stock movement not found")

type VariantRepository interface {
	GetVariant(ctx context.Context, id string) (*domain.Variant, error)
	CreateVariant(ctx context.Context, v domain.Variant) error

	// SetTracking flips the tracksInventory flag. Never touches on-hand and
	// never writes a movement.
	SetTracking(ctx context.Context, id string, track bool) error
}

type OrderRepository interface {
	// GetOrder returns the order with its lines in insertion order.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	CreateOrder(ctx context.Context, o domain.Order) error

	// UpdateOrderState commits one edge of the state machine. The write is
	// conditional on the order still being in from; losing that race fails
	// with ErrStaleOrderState so each edge is taken exactly once.
	UpdateOrderState(ctx context.Context, id string, from, to domain.OrderState) error

	MarkLineReconciled(ctx context.Context, lineID string) error
}
