package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// MovementPage is one slice of a variant's history plus the total row count,
// for offset-based listing.
type MovementPage struct {
	Items      []domain.StockMovement
	TotalItems int
}

// LedgerService is the single entry point for writing the movement log.
// Every quantity change in the system, administrative or order-driven, goes
// through Append.
type LedgerService struct {
	store  port.LedgerStore
	cache  port.CacheRepository
	events port.EventPublisher
	logger *zap.Logger
	clock  func() time.Time
}

func NewLedgerService(store port.LedgerStore, cache port.CacheRepository, events port.EventPublisher, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		store:  store,
		cache:  cache,
		events: events,
		logger: logger.Named("ledger"),
		clock:  time.Now,
	}
}

// WithClock overrides the timestamp source for tests.
func (s *LedgerService) WithClock(clock func() time.Time) *LedgerService {
	s.clock = clock
	return s
}

// Append records one immutable movement and updates the variant's on-hand
// counter in the same atomic unit. Callers must filter no-op deltas first:
// a zero quantity fails validation before anything is written.
func (s *LedgerService) Append(ctx context.Context, variantID string, kind domain.MovementKind, quantity int, orderLineID *string) (domain.StockMovement, error) {
	m := domain.StockMovement{
		ID:          uuid.New().String(),
		VariantID:   variantID,
		Kind:        kind,
		Quantity:    quantity,
		OrderLineID: orderLineID,
		CreatedAt:   s.clock(),
	}
	if err := m.Validate(); err != nil {
		return domain.StockMovement{}, err
	}

	stored, onHand, err := s.store.AppendMovement(ctx, m)
	if err != nil {
		return domain.StockMovement{}, err
	}

	if err := s.cache.SetOnHand(ctx, variantID, onHand); err != nil {
		s.logger.Warn("on-hand cache refresh failed",
			zap.String("variant_id", variantID), zap.Error(err))
	}
	if err := s.events.PublishMovementRecorded(ctx, stored, onHand); err != nil {
		s.logger.Warn("movement event publish failed",
			zap.String("movement_id", stored.ID), zap.Error(err))
	}

	s.logger.Info("movement recorded",
		zap.String("variant_id", variantID),
		zap.String("kind", string(kind)),
		zap.Int("quantity", quantity),
		zap.Int("on_hand", onHand))
	return stored, nil
}

// ListForVariant returns one page of a variant's movement history in
// insertion order, oldest first, with items + totalItems semantics.
func (s *LedgerService) ListForVariant(ctx context.Context, variantID string, skip, take int) (MovementPage, error) {
	if skip < 0 {
		skip = 0
	}
	if take <= 0 {
		take = defaultPageSize
	}
	if take > maxPageSize {
		take = maxPageSize
	}

	items, total, err := s.store.ListMovements(ctx, variantID, skip, take)
	if err != nil {
		return MovementPage{}, fmt.Errorf("list movements: %w", err)
	}
	return MovementPage{Items: items, TotalItems: total}, nil
}

// SaleRecorded reports whether the order line has already been deducted.
func (s *LedgerService) SaleRecorded(ctx context.Context, orderLineID string) (bool, error) {
	return s.store.SaleRecorded(ctx, orderLineID)
}

// ReversalRecorded reports whether the order line's sale has already been
// compensated by a cancellation or return.
func (s *LedgerService) ReversalRecorded(ctx context.Context, orderLineID string) (bool, error) {
	return s.store.ReversalRecorded(ctx, orderLineID)
}

// ReverseSale appends the compensating movement for a previously recorded
// sale: the same quantity with the opposite sign, referencing the same
// order line. Used for cancellations of settled orders and for returns.
// Only CANCELLATION and RETURN are legal kinds here.
func (s *LedgerService) ReverseSale(ctx context.Context, orderLineID string, kind domain.MovementKind) (domain.StockMovement, error) {
	if kind != domain.MovementCancellation && kind != domain.MovementReturn {
		return domain.StockMovement{}, fmt.Errorf("reverse sale: unsupported movement kind %q", kind)
	}
	sale, err := s.store.GetSaleMovement(ctx, orderLineID)
	if err != nil {
		return domain.StockMovement{}, fmt.Errorf("reverse sale: %w", err)
	}
	return s.Append(ctx, sale.VariantID, kind, -sale.Quantity, &orderLineID)
}
