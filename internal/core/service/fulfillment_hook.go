package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	settlementKeyPrefix   = "settlement:"
	cancellationKeyPrefix = "cancellation:"
)

type LineStatus string

const (
	LineDeducted          LineStatus = "deducted"
	LineSkippedUntracked  LineStatus = "skipped_untracked"
	LineAlreadyReconciled LineStatus = "already_reconciled"
	LineShortfall         LineStatus = "shortfall"
	LineFailed            LineStatus = "failed"
	LineRestored          LineStatus = "restored"
	LineAlreadyReversed   LineStatus = "already_reversed"
	LineNotDeducted       LineStatus = "not_deducted"
)

// LineResult is the per-line outcome of one settlement pass. Failures are
// carried here instead of aborting the pass: stock reconciliation must never
// block order completion.
type LineResult struct {
	LineID    string
	VariantID string
	Status    LineStatus
	Err       error
}

// FulfillmentHook consumes the stock-affecting transition events: settlement
// converts each order line into a SALE movement, cancelling a settled order
// gives the stock back with CANCELLATION movements. It is safe to re-run for
// the same order any number of times: a fast-path idempotency key in the
// cache plus an authoritative per-line check against the ledger guarantee
// each line is deducted (or restored) at most once, which makes crash
// recovery a plain re-delivery of the event.
type FulfillmentHook struct {
	ledger   *LedgerService
	orders   port.OrderRepository
	variants port.VariantRepository
	cache    port.CacheRepository
	events   port.EventPublisher
	logger   *zap.Logger
}

func NewFulfillmentHook(ledger *LedgerService, orders port.OrderRepository, variants port.VariantRepository, cache port.CacheRepository, events port.EventPublisher, logger *zap.Logger) *FulfillmentHook {
	return &FulfillmentHook{
		ledger:   ledger,
		orders:   orders,
		variants: variants,
		cache:    cache,
		events:   events,
		logger:   logger.Named("fulfillment"),
	}
}

// Handle routes one transition event to the stock-affecting edge handlers:
// entering PaymentSettled deducts, leaving PaymentSettled for Cancelled
// restores. Every other edge is ignored.
func (h *FulfillmentHook) Handle(ctx context.Context, ev domain.TransitionEvent) ([]LineResult, error) {
	switch {
	case ev.To == domain.OrderPaymentSettled:
		return h.HandleSettlement(ctx, ev)
	case ev.To == domain.OrderCancelled && ev.From == domain.OrderPaymentSettled:
		return h.HandleCancellation(ctx, ev)
	}
	return nil, nil
}

// HandleSettlement processes one transition event. Events for any edge
// other than the one entering PaymentSettled are ignored. Per line:
// untracked variants are skipped with no movement, already-deducted lines
// are skipped, and an insufficient-stock rejection is reported as a
// shortfall warning while the remaining lines still get processed.
func (h *FulfillmentHook) HandleSettlement(ctx context.Context, ev domain.TransitionEvent) ([]LineResult, error) {
	if ev.To != domain.OrderPaymentSettled {
		return nil, nil
	}

	// Fast path only: the per-line ledger check below stays authoritative,
	// so a cache outage degrades to extra lookups, never to a double
	// deduction or a blocked order.
	firstRun, err := h.cache.SetIdempotency(ctx, settlementKeyPrefix+ev.OrderID)
	if err != nil {
		h.logger.Warn("settlement idempotency check unavailable",
			zap.String("order_id", ev.OrderID), zap.Error(err))
	} else if !firstRun {
		h.logger.Info("settlement replay detected, verifying lines",
			zap.String("order_id", ev.OrderID))
	}

	order, err := h.orders.GetOrder(ctx, ev.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", ev.OrderID, err)
	}

	results := make([]LineResult, 0, len(order.Lines))
	for _, line := range order.Lines {
		results = append(results, h.reconcileLine(ctx, order.ID, line))
	}

	h.logger.Info("order reconciled for stock",
		zap.String("order_id", ev.OrderID),
		zap.Int("lines", len(results)))
	return results, nil
}

func (h *FulfillmentHook) reconcileLine(ctx context.Context, orderID string, line domain.OrderLine) LineResult {
	res := LineResult{LineID: line.ID, VariantID: line.VariantID}

	if line.StockReconciled {
		res.Status = LineAlreadyReconciled
		return res
	}

	v, err := h.variants.GetVariant(ctx, line.VariantID)
	if err != nil {
		res.Status = LineFailed
		res.Err = fmt.Errorf("load variant: %w", err)
		h.logger.Error("settlement line failed",
			zap.String("order_id", orderID),
			zap.String("line_id", line.ID),
			zap.Error(err))
		return res
	}

	if !v.TrackInventory {
		// No movement for untracked variants; the order still completes.
		h.markReconciled(ctx, orderID, line.ID)
		res.Status = LineSkippedUntracked
		return res
	}

	recorded, err := h.ledger.SaleRecorded(ctx, line.ID)
	if err != nil {
		res.Status = LineFailed
		res.Err = fmt.Errorf("sale lookup: %w", err)
		return res
	}
	if recorded {
		// The movement exists but the flag write was lost, e.g. a crash
		// between append and mark. Repair the flag and move on.
		h.markReconciled(ctx, orderID, line.ID)
		res.Status = LineAlreadyReconciled
		return res
	}

	_, err = h.ledger.Append(ctx, line.VariantID, domain.MovementSale, -line.Quantity, &line.ID)
	switch {
	case err == nil:
		h.markReconciled(ctx, orderID, line.ID)
		res.Status = LineDeducted
	case errors.Is(err, port.ErrInsufficientStock):
		// Report, don't block: stock should have been corrected before
		// settlement, so this is an operator problem, not an order problem.
		res.Status = LineShortfall
		res.Err = err
		h.reportShortfall(ctx, orderID, line, v.OnHand)
	default:
		res.Status = LineFailed
		res.Err = err
		h.logger.Error("sale movement append failed",
			zap.String("order_id", orderID),
			zap.String("line_id", line.ID),
			zap.Error(err))
	}
	return res
}

// HandleCancellation compensates a settled order that was cancelled: each
// line whose sale was recorded gets one CANCELLATION movement of the
// opposite sign, restoring its on-hand count. Re-runnable like settlement:
// a line is reversed at most once.
func (h *FulfillmentHook) HandleCancellation(ctx context.Context, ev domain.TransitionEvent) ([]LineResult, error) {
	if ev.To != domain.OrderCancelled || ev.From != domain.OrderPaymentSettled {
		return nil, nil
	}

	firstRun, err := h.cache.SetIdempotency(ctx, cancellationKeyPrefix+ev.OrderID)
	if err != nil {
		h.logger.Warn("cancellation idempotency check unavailable",
			zap.String("order_id", ev.OrderID), zap.Error(err))
	} else if !firstRun {
		h.logger.Info("cancellation replay detected, verifying lines",
			zap.String("order_id", ev.OrderID))
	}

	order, err := h.orders.GetOrder(ctx, ev.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", ev.OrderID, err)
	}

	results := make([]LineResult, 0, len(order.Lines))
	for _, line := range order.Lines {
		results = append(results, h.reverseLine(ctx, order.ID, line))
	}

	h.logger.Info("cancelled order stock restored",
		zap.String("order_id", ev.OrderID),
		zap.Int("lines", len(results)))
	return results, nil
}

func (h *FulfillmentHook) reverseLine(ctx context.Context, orderID string, line domain.OrderLine) LineResult {
	res := LineResult{LineID: line.ID, VariantID: line.VariantID}

	if !line.StockReconciled {
		// Settlement never deducted this line (or hasn't yet); there is
		// nothing to give back.
		res.Status = LineNotDeducted
		return res
	}

	reversed, err := h.ledger.ReversalRecorded(ctx, line.ID)
	if err != nil {
		res.Status = LineFailed
		res.Err = fmt.Errorf("reversal lookup: %w", err)
		return res
	}
	if reversed {
		res.Status = LineAlreadyReversed
		return res
	}

	_, err = h.ledger.ReverseSale(ctx, line.ID, domain.MovementCancellation)
	switch {
	case err == nil:
		res.Status = LineRestored
	case errors.Is(err, port.ErrMovementNotFound):
		// Reconciled without a sale: the line was untracked at settlement.
		res.Status = LineNotDeducted
	default:
		res.Status = LineFailed
		res.Err = err
		h.logger.Error("sale reversal failed",
			zap.String("order_id", orderID),
			zap.String("line_id", line.ID),
			zap.Error(err))
	}
	return res
}

func (h *FulfillmentHook) markReconciled(ctx context.Context, orderID, lineID string) {
	if err := h.orders.MarkLineReconciled(ctx, lineID); err != nil {
		h.logger.Warn("mark line reconciled failed",
			zap.String("order_id", orderID),
			zap.String("line_id", lineID),
			zap.Error(err))
	}
}

func (h *FulfillmentHook) reportShortfall(ctx context.Context, orderID string, line domain.OrderLine, onHand int) {
	sf := domain.Shortfall{
		OrderID:     orderID,
		OrderLineID: line.ID,
		VariantID:   line.VariantID,
		Requested:   line.Quantity,
		OnHand:      onHand,
		OccurredAt:  time.Now(),
	}
	h.logger.Warn("insufficient stock at settlement",
		zap.String("order_id", orderID),
		zap.String("line_id", line.ID),
		zap.String("variant_id", line.VariantID),
		zap.Int("requested", line.Quantity),
		zap.Int("on_hand", onHand))
	if err := h.events.PublishShortfall(ctx, sf); err != nil {
		h.logger.Warn("shortfall event publish failed",
			zap.String("order_id", orderID), zap.Error(err))
	}
}
