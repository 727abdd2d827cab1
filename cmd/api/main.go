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

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/bgunisex/salon-commerce/internal/checkout"
	"github.com/bgunisex/salon-commerce/internal/config"
	"github.com/bgunisex/salon-commerce/internal/httpx"
	"github.com/bgunisex/salon-commerce/internal/inventory"
	kafkax "github.com/bgunisex/salon-commerce/internal/kafka"
	"github.com/bgunisex/salon-commerce/internal/logging"
	"github.com/bgunisex/salon-commerce/internal/memstore"
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

	logger, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg.ServiceName, cfg.OtelEndpoint, cfg.OtelAuthHeader)
	if err != nil {
		logger.Fatal("tracing setup", zap.Error(err))
	}

	catalog, store, closeStore := openStores(ctx, cfg, logger)
	defer closeStore()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cached := &redisx.CachedOrders{OrderStore: store, RDB: rdb, TTL: redisx.TTLOrderCache, Log: logger}

	prodEvents := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024, logger)
	prodNotify := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicNotifications, 1024, logger)
	prodWebhook := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPaymentWebhook, 1024, logger)
	producers := []*kafkax.Producer{prodEvents, prodNotify, prodWebhook}
	for _, p := range producers {
		p.Start(ctx)
	}
	events := &kafkax.EventPublisher{Producer: prodEvents, Service: cfg.ServiceName}
	notifier := &kafkax.Notifier{Events: &kafkax.EventPublisher{Producer: prodNotify, Service: cfg.ServiceName}}

	gateway := payment.NewClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey)
	svc := &checkout.Service{
		Reserver: &inventory.Reserver{Catalog: catalog, Log: logger},
		Payments: &payment.Initiator{
			Gateway:     gateway,
			Timeout:     cfg.GatewayTimeout,
			Currency:    cfg.Currency,
			RedirectURL: cfg.RedirectURL,
			Log:         logger,
		},
		Orders:          cached,
		Notifier:        notifier,
		Events:          events,
		Log:             logger,
		Currency:        cfg.Currency,
		RollbackTimeout: cfg.RollbackTimeout,
	}
	verifier := &reconcile.Handler{
		Gateway:  gateway,
		Orders:   cached,
		Notifier: notifier,
		Events:   events,
		Log:      logger,
		Timeout:  cfg.GatewayTimeout,
	}

	router := httpx.NewRouter(logger)
	(&httpx.OrdersHandler{
		Checkout: svc,
		Verifier: verifier,
		Orders:   cached,
		Catalog:  catalog,
		Idem:     &redisx.IdempotencyStore{RDB: rdb},
		Auth:     &redisx.SessionResolver{RDB: rdb},
		Log:      logger,
	}).Register(router)
	(&httpx.WebhookHandler{
		Secret:  cfg.GatewayWebhookHash,
		Forward: &kafkax.EventPublisher{Producer: prodWebhook, Service: cfg.ServiceName},
		Log:     logger,
	}).Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, "http.server"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	for _, p := range producers {
		p.Close()
	}
	cancel()
	for _, p := range producers {
		p.WaitClosed()
	}
	if err := shutdownTracing(ctx2); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (orders.Catalog, orders.OrderStore, func()) {
	if cfg.Store == "memory" {
		c := memstore.NewCatalog()
		memstore.SeedDemo(c)
		logger.Warn("using in-memory store; data is lost on restart")
		return c, memstore.NewOrderStore(), func() {}
	}

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		logger.Fatal("db migrate", zap.Error(err))
	}
	return &postgres.Catalog{DB: db}, &postgres.OrderStore{DB: db}, db.Close
}
