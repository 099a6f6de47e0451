package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-stock-orders/internal/config"
	"github.com/ariefcatur/go-stock-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-stock-orders/internal/kafka"
	"github.com/ariefcatur/go-stock-orders/internal/logx"
	"github.com/ariefcatur/go-stock-orders/internal/memstore"
	"github.com/ariefcatur/go-stock-orders/internal/notify"
	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/postgres"
	"github.com/ariefcatur/go-stock-orders/internal/redisx"
	"github.com/ariefcatur/go-stock-orders/internal/stock"
	"github.com/ariefcatur/go-stock-orders/internal/tracing"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// backend is what both store drivers provide.
type backend interface {
	orders.Store
	stock.Backend
	stock.Catalog
	orders.CustomerDirectory
	orders.PriceList
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logx.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}

	// Store
	var store backend
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store, data is lost on exit")
		store = memstore.New()
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PGMaxConns)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
		store = &postgres.Store{DB: db}
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := &redisx.Cache{RDB: rdb}

	// Notifiers
	fan := notify.Fanout{
		notify.Log{Log: logger},
		notify.Cache{Cache: *cache, Log: logger},
	}
	var producers []*kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		life := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicLifecycle, 1024, logger)
		stk := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicStockChanged, 1024, logger)
		life.Start(ctx)
		stk.Start(ctx)
		producers = append(producers, life, stk)
		fan = append(fan, notify.Kafka{Lifecycle: life, Stock: stk, Producer: cfg.ServiceName})
	} else {
		logger.Warn("KAFKA_BROKERS empty, events are not published")
	}

	svc := &orders.Service{
		Store:            store,
		Customers:        store,
		Prices:           store,
		Catalog:          store,
		Notifier:         fan,
		Log:              logger.Named("orders"),
		DefaultTaxRate:   cfg.DefaultTaxRate,
		DefaultPriceList: cfg.DefaultPriceList,
	}
	ledger := &stock.Ledger{Backend: store, Log: logger.Named("stock")}

	router := httpx.NewRouter(logger)
	(&httpx.OrdersHandler{Service: svc, Cache: cache, Log: logger}).Register(router)
	(&httpx.StockHandler{Ledger: ledger, Catalog: store, Log: logger}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	for _, p := range producers {
		p.Close() // flush & close writer
	}
	for _, p := range producers {
		p.WaitClosed()
	}
	cancel()
	if err := shutdownTracing(ctx2); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
