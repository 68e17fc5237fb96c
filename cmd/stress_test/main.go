package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/adapter/events"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

const (
	initialStock = 20
	totalOrders  = 50
	workerCount  = 8
	queueSize    = 100
)

// Contention check for the per-variant unit of atomicity: more one-unit
// orders settle concurrently than there is stock, and the run fails if the
// counter ever disagrees with the movement history or dips below zero.
func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx := context.Background()
	store := storage.NewMemoryAdapter()
	cache := storage.NewMemoryCache()

	variantID := uuid.New().String()
	now := time.Now()
	if err := store.CreateVariant(ctx, domain.Variant{
		ID: variantID, SKU: "stress-item", OnHand: 0, TrackInventory: true,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		logger.Fatal("create variant", zap.Error(err))
	}

	ledger := service.NewLedgerService(store, cache, events.NoopPublisher{}, logger)
	adjustments := service.NewAdjustmentService(ledger, store, logger)
	orders := service.NewOrderService(store, queueSize, logger)
	hook := service.NewFulfillmentHook(ledger, store, store, cache, events.NoopPublisher{}, logger)

	if _, err := adjustments.SetStockOnHand(ctx, service.AdjustmentRequest{
		VariantID: variantID, StockOnHand: initialStock,
	}); err != nil {
		logger.Fatal("seed stock", zap.Error(err))
	}

	var deducted, shortfalls atomic.Int32

	var workerWg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for ev := range orders.Reconciliations() {
				results, err := hook.Handle(ctx, ev)
				if err != nil {
					logger.Error("settlement failed", zap.Error(err))
					continue
				}
				for _, res := range results {
					switch res.Status {
					case service.LineDeducted:
						deducted.Add(1)
					case service.LineShortfall:
						shortfalls.Add(1)
					}
				}
			}
		}()
	}

	start := time.Now()
	var settleWg sync.WaitGroup
	for i := 0; i < totalOrders; i++ {
		settleWg.Add(1)
		go func() {
			defer settleWg.Done()
			o := domain.Order{
				ID:    uuid.New().String(),
				State: domain.OrderArrangingPayment,
				Lines: []domain.OrderLine{{
					ID:        uuid.New().String(),
					VariantID: variantID,
					Quantity:  1,
				}},
			}
			if err := store.CreateOrder(ctx, o); err != nil {
				logger.Error("create order", zap.Error(err))
				return
			}
			if _, err := orders.Transition(ctx, o.ID, domain.OrderPaymentSettled); err != nil {
				logger.Error("settle order", zap.Error(err))
			}
		}()
	}
	settleWg.Wait()

	orders.Close()
	workerWg.Wait()
	elapsed := time.Since(start)

	v, err := store.GetVariant(ctx, variantID)
	if err != nil {
		logger.Fatal("get variant", zap.Error(err))
	}
	sum, err := store.SumMovements(ctx, variantID)
	if err != nil {
		logger.Fatal("sum movements", zap.Error(err))
	}

	fmt.Printf("orders: %d, deducted: %d, shortfalls: %d, elapsed: %s\n",
		totalOrders, deducted.Load(), shortfalls.Load(), elapsed)
	fmt.Printf("on-hand: %d, sum of movements: %d\n", v.OnHand, sum)

	if v.OnHand < 0 {
		logger.Fatal("on-hand went negative", zap.Int("on_hand", v.OnHand))
	}
	if v.OnHand != sum {
		logger.Fatal("counter diverged from movement history",
			zap.Int("on_hand", v.OnHand), zap.Int("sum", sum))
	}
	if int(deducted.Load()) != initialStock {
		logger.Fatal("unexpected deduction count", zap.Int32("deducted", deducted.Load()))
	}
	fmt.Println("stress check passed")
}
