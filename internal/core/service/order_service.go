package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// OrderService drives the order state machine and hands stock-affecting
// events to the fulfillment workers. The transition itself commits
// independently of stock reconciliation: the event goes onto a buffered
// queue and the caller never waits for the ledger.
type OrderService struct {
	orders      port.OrderRepository
	reconcileCh chan domain.TransitionEvent
	logger      *zap.Logger
	clock       func() time.Time
}

func NewOrderService(orders port.OrderRepository, queueSize int, logger *zap.Logger) *OrderService {
	return &OrderService{
		orders:      orders,
		reconcileCh: make(chan domain.TransitionEvent, queueSize),
		logger:      logger.Named("orders"),
		clock:       time.Now,
	}
}

// WithClock overrides the timestamp source for tests.
func (s *OrderService) WithClock(clock func() time.Time) *OrderService {
	s.clock = clock
	return s
}

// Transition moves the order along one edge of the lifecycle. The state
// write is conditional on the source state, so when two callers race the
// same edge exactly one wins and exactly one reconciliation event is
// emitted; the loser gets ErrStaleOrderState.
func (s *OrderService) Transition(ctx context.Context, orderID string, target domain.OrderState) (domain.TransitionEvent, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return domain.TransitionEvent{}, fmt.Errorf("load order %s: %w", orderID, err)
	}

	ev, err := order.Transition(target, s.clock())
	if err != nil {
		return domain.TransitionEvent{}, err
	}

	if err := s.orders.UpdateOrderState(ctx, orderID, ev.From, ev.To); err != nil {
		return domain.TransitionEvent{}, err
	}

	s.logger.Info("order transitioned",
		zap.String("order_id", orderID),
		zap.String("from", string(ev.From)),
		zap.String("to", string(ev.To)))

	// Settlement deducts stock; cancelling a settled order restores it.
	// Both edges need the fulfillment workers.
	if ev.To == domain.OrderPaymentSettled ||
		(ev.To == domain.OrderCancelled && ev.From == domain.OrderPaymentSettled) {
		s.reconcileCh <- ev
	}
	return ev, nil
}

// Reconciliations exposes the queue of stock-affecting transition events
// for the worker pool.
func (s *OrderService) Reconciliations() <-chan domain.TransitionEvent {
	return s.reconcileCh
}

func (s *OrderService) Close() {
	close(s.reconcileCh)
}
