package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/adapter/events"
	"github.com/rl1809/stock-ledger/internal/adapter/handler"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/port"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage: MySQL when a DSN is configured, otherwise the in-memory
	// adapter so the server runs without infrastructure.
	var (
		ledgerStore port.LedgerStore
		variantRepo port.VariantRepository
		orderRepo   port.OrderRepository
		db          *sql.DB
	)
	if cfg.MySQLDSN != "" {
		db, err = sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			logger.Fatal("mysql open failed", zap.Error(err))
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("mysql ping failed", zap.Error(err))
		}
		logger.Info("connected to mysql")

		mysqlAdapter := storage.NewMySQLAdapter(db)
		ledgerStore, variantRepo, orderRepo = mysqlAdapter, mysqlAdapter, mysqlAdapter
	} else {
		logger.Info("no MYSQL_DSN configured, using in-memory store")
		memAdapter := storage.NewMemoryAdapter()
		ledgerStore, variantRepo, orderRepo = memAdapter, memAdapter, memAdapter
	}

	// Cache: Redis when configured, in-process otherwise.
	var cache port.CacheRepository
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping failed", zap.Error(err))
		}
		logger.Info("connected to redis")
		cache = storage.NewRedisAdapter(rdb)
	} else {
		logger.Info("no REDIS_ADDR configured, using in-memory cache")
		cache = storage.NewMemoryCache()
	}

	// Audit stream: Kafka when configured, disabled otherwise.
	var publisher port.EventPublisher = events.NoopPublisher{}
	if cfg.KafkaBroker != "" {
		publisher = events.NewKafkaPublisher(cfg.KafkaBroker)
		logger.Info("publishing audit events to kafka", zap.String("broker", cfg.KafkaBroker))
	}

	ledgerService := service.NewLedgerService(ledgerStore, cache, publisher, logger)
	adjustmentService := service.NewAdjustmentService(ledgerService, variantRepo, logger)
	orderService := service.NewOrderService(orderRepo, cfg.QueueSize, logger)
	fulfillmentHook := service.NewFulfillmentHook(ledgerService, orderRepo, variantRepo, cache, publisher, logger)

	// Reconciliation worker pool: settlement deductions and cancellation
	// restores run off the request path; the order transition never waits
	// on the ledger.
	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			reconciliationWorker(id, orderService.Reconciliations(), fulfillmentHook, logger)
		}(i)
	}
	logger.Info("started reconciliation workers", zap.Int("count", cfg.WorkerCount))

	httpHandler := handler.NewHTTPHandler(adjustmentService, ledgerService, orderService, variantRepo, orderRepo, cache, logger)
	mux := http.NewServeMux()
	httpHandler.Register(mux)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("http server stopped")

	orderService.Close()
	wg.Wait()
	logger.Info("reconciliation workers stopped")

	publisher.Close()
	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
	logger.Info("connections closed")
}

func reconciliationWorker(id int, queue <-chan domain.TransitionEvent, hook *service.FulfillmentHook, logger *zap.Logger) {
	for ev := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		results, err := hook.Handle(ctx, ev)
		if err != nil {
			logger.Error("stock reconciliation failed",
				zap.Int("worker", id),
				zap.String("order_id", ev.OrderID),
				zap.Error(err))
		} else {
			for _, res := range results {
				if res.Err != nil {
					logger.Warn("reconciliation line needs operator follow-up",
						zap.Int("worker", id),
						zap.String("order_id", ev.OrderID),
						zap.String("line_id", res.LineID),
						zap.String("status", string(res.Status)),
						zap.Error(res.Err))
				}
			}
		}

		cancel()
	}
}
