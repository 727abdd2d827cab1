package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/bgunisex/salon-commerce/internal/config"
	kafkax "github.com/bgunisex/salon-commerce/internal/kafka"
	"github.com/bgunisex/salon-commerce/internal/logging"
	"github.com/bgunisex/salon-commerce/internal/orders"
	"github.com/bgunisex/salon-commerce/internal/payment"
	"github.com/bgunisex/salon-commerce/internal/postgres"
	"github.com/bgunisex/salon-commerce/internal/reconcile"
	"github.com/bgunisex/salon-commerce/internal/redisx"
	"github.com/bgunisex/salon-commerce/internal/tracing"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-reconciler"

	logger, err := logging.New(cfg.LogLevel, service)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, service, cfg.OtelEndpoint, cfg.OtelAuthHeader)
	if err != nil {
		logger.Fatal("tracing setup", zap.Error(err))
	}

	// The reconciler shares order state with the API, so it always runs on Postgres.
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	store := &redisx.CachedOrders{OrderStore: &postgres.OrderStore{DB: db}, RDB: rdb, TTL: redisx.TTLOrderCache, Log: logger}

	prodEvents := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024, logger)
	prodNotify := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicNotifications, 1024, logger)
	prodEvents.Start(ctx)
	prodNotify.Start(ctx)

	handler := &reconcile.Handler{
		Gateway:  payment.NewClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey),
		Orders:   store,
		Notifier: &kafkax.Notifier{Events: &kafkax.EventPublisher{Producer: prodNotify, Service: service}},
		Events:   &kafkax.EventPublisher{Producer: prodEvents, Service: service},
		Log:      logger,
		Timeout:  cfg.GatewayTimeout,
	}
	webhooks := &reconcile.WebhookConsumer{
		Handler: handler,
		Dedup:   &redisx.Dedup{RDB: rdb, Consumer: cfg.ReconcilerGroup},
		Log:     logger,
	}
	sweeper := &reconcile.Sweeper{
		Handler:    handler,
		Orders:     store,
		Interval:   cfg.ReconcileInterval,
		StaleAfter: cfg.ReconcileStaleAfter,
		Log:        logger,
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ReconcilerGroup, orders.TopicPaymentWebhook, cfg.ReconcilerWorkers, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		logger.Info("webhook consumer started",
			zap.String("group", cfg.ReconcilerGroup), zap.Int("workers", cfg.ReconcilerWorkers))
		if err := cons.Start(ctx, webhooks.Handle); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		_ = sweeper.Run(ctx)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down reconciler")
	cancel()
	wg.Wait()

	prodEvents.Close()
	prodNotify.Close()
	prodEvents.WaitClosed()
	prodNotify.WaitClosed()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := shutdownTracing(ctx2); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
