package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ariefcatur/go-stock-orders/internal/config"
	kafkax "github.com/ariefcatur/go-stock-orders/internal/kafka"
	"github.com/ariefcatur/go-stock-orders/internal/logx"
	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/projector"
	"github.com/ariefcatur/go-stock-orders/internal/redisx"
	"github.com/ariefcatur/go-stock-orders/internal/tracing"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	name := cfg.ServiceName + "-projector"

	logger, err := logx.New(name, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	if len(cfg.KafkaBrokers) == 0 {
		logger.Fatal("KAFKA_BROKERS is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, name, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &projector.Service{
		Cache:       redisx.Cache{RDB: rdb},
		Log:         logger,
		ServiceName: name,
	}

	consumers := []struct {
		topic   string
		handler kafkax.Handler
	}{
		{orders.TopicLifecycle, svc.HandleLifecycle},
		{orders.TopicStockChanged, svc.HandleStock},
	}

	var wg sync.WaitGroup
	for _, c := range consumers {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, c.topic, cfg.ProjectorWorkers, logger)
		wg.Add(1)
		go func(topic string, h kafkax.Handler) {
			defer wg.Done()
			logger.Info("consumer started", zap.String("topic", topic), zap.String("group", cfg.ProjectorGroup),
				zap.Int("workers", cfg.ProjectorWorkers))
			if err := cons.Start(ctx, h); err != nil {
				logger.Error("consumer exit", zap.String("topic", topic), zap.Error(err))
				cancel()
			}
		}(c.topic, c.handler)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumers...")
	cancel()
	wg.Wait()
	if err := shutdownTracing(context.Background()); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
