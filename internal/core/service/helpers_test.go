package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/adapter/events"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// testStack wires the services onto the in-memory adapters, the way
// cmd/server does in dev mode.
type testStack struct {
	store  *storage.MemoryAdapter
	cache  *storage.MemoryCache
	ledger *LedgerService
	adjust *AdjustmentService
	hook   *FulfillmentHook
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	store := storage.NewMemoryAdapter()
	cache := storage.NewMemoryCache()
	logger := zap.NewNop()

	ledger := NewLedgerService(store, cache, events.NoopPublisher{}, logger)
	adjust := NewAdjustmentService(ledger, store, logger)
	hook := NewFulfillmentHook(ledger, store, store, cache, events.NoopPublisher{}, logger)

	return &testStack{
		store:  store,
		cache:  cache,
		ledger: ledger,
		adjust: adjust,
		hook:   hook,
	}
}

// seedVariant registers a variant and, when onHand is non-zero, funds it
// through the adjustment path so the movement history covers the seed.
func (ts *testStack) seedVariant(t *testing.T, id string, onHand int, tracked bool) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	if err := ts.store.CreateVariant(ctx, domain.Variant{
		ID: id, SKU: "sku-" + id, TrackInventory: tracked,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create variant %s: %v", id, err)
	}
	if onHand != 0 {
		if _, err := ts.adjust.SetStockOnHand(ctx, AdjustmentRequest{VariantID: id, StockOnHand: onHand}); err != nil {
			t.Fatalf("seed stock for %s: %v", id, err)
		}
	}
}

func (ts *testStack) seedOrder(t *testing.T, id string, state domain.OrderState, lines ...domain.OrderLine) {
	t.Helper()
	now := time.Now()
	for i := range lines {
		lines[i].OrderID = id
	}
	if err := ts.store.CreateOrder(context.Background(), domain.Order{
		ID: id, State: state, Lines: lines, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create order %s: %v", id, err)
	}
}

// verifyCounter checks the event-sourcing invariant: the cached counter
// must equal the rebuilt sum of all movements.
func (ts *testStack) verifyCounter(t *testing.T, variantID string, want int) {
	t.Helper()
	ctx := context.Background()
	v, err := ts.store.GetVariant(ctx, variantID)
	if err != nil {
		t.Fatalf("get variant %s: %v", variantID, err)
	}
	sum, err := ts.store.SumMovements(ctx, variantID)
	if err != nil {
		t.Fatalf("sum movements %s: %v", variantID, err)
	}
	if v.OnHand != want {
		t.Errorf("on-hand: got %d, want %d", v.OnHand, want)
	}
	if sum != v.OnHand {
		t.Errorf("counter diverged from history: on-hand %d, sum %d", v.OnHand, sum)
	}
}

func (ts *testStack) movementsByKind(t *testing.T, variantID string, kind domain.MovementKind) []domain.StockMovement {
	t.Helper()
	items, _, err := ts.store.ListMovements(context.Background(), variantID, 0, 1000)
	if err != nil {
		t.Fatalf("list movements %s: %v", variantID, err)
	}
	var out []domain.StockMovement
	for _, m := range items {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func settledEvent(orderID string) domain.TransitionEvent {
	return domain.TransitionEvent{
		OrderID:    orderID,
		From:       domain.OrderArrangingPayment,
		To:         domain.OrderPaymentSettled,
		OccurredAt: time.Now(),
	}
}

func cancelledEvent(orderID string) domain.TransitionEvent {
	return domain.TransitionEvent{
		OrderID:    orderID,
		From:       domain.OrderPaymentSettled,
		To:         domain.OrderCancelled,
		OccurredAt: time.Now(),
	}
}
