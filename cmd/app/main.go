package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/ivmarkov/ticketflow/config"
	"github.com/ivmarkov/ticketflow/internal/bootstrap"
	"github.com/ivmarkov/ticketflow/internal/cache"
	"github.com/ivmarkov/ticketflow/internal/gateway"
	"github.com/ivmarkov/ticketflow/internal/kafka"
	"github.com/ivmarkov/ticketflow/internal/repository"
	"github.com/ivmarkov/ticketflow/internal/service/events"
	"github.com/ivmarkov/ticketflow/internal/service/order"
	"github.com/ivmarkov/ticketflow/internal/service/reconcile"
	"github.com/ivmarkov/ticketflow/internal/service/tickets"
	"github.com/ivmarkov/ticketflow/internal/sign"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	redisCache := cache.NewRedisCache(cfg.Redis, time.Duration(cfg.Orders.EventsCacheTTLSeconds)*time.Second)
	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	eventRepo := repository.NewEventRepository(pool)
	inventoryRepo := repository.NewInventoryRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	ticketRepo := repository.NewTicketRepository(pool)

	registry := gateway.NewRegistry()
	registry.Register(gateway.WithBreaker(gateway.WithRetry(gateway.NewPayvaultProvider(
		cfg.Gateway.BaseURL,
		cfg.Gateway.BasicAuthKey,
		cfg.Gateway.WebhookSecret,
		logger,
		&http.Client{Timeout: cfg.Gateway.Timeout()},
	), cfg.Gateway.MaxRetries)))
	provider, err := registry.Get(cfg.Gateway.Provider)
	if err != nil {
		log.Fatalf("gateway provider: %v", err)
	}

	signer := sign.NewSigner(cfg.Tickets.SigningSecret)
	minter := tickets.NewMinter(ticketRepo, signer)

	orderService := order.NewOrderService(order.OrderServiceProperty{
		Orders:         orderRepo,
		Inventory:      inventoryRepo,
		Events:         eventRepo,
		Provider:       provider,
		Producer:       producer,
		Logger:         logger,
		OrderTopic:     cfg.Kafka.OrderTopic,
		ReservationTTL: cfg.Orders.ReservationTTL(),
		FeePercent:     cfg.Orders.ServiceFeePercent,
		TaxPercent:     cfg.Orders.TaxPercent,
		SweepBatchSize: cfg.Worker.SweepBatchSize,
	})

	reconciler := reconcile.NewReconciler(reconcile.ReconcilerProperty{
		Orders:      orderRepo,
		Payments:    paymentRepo,
		Inventory:   inventoryRepo,
		Minter:      minter,
		Producer:    producer,
		Dedup:       redisCache,
		Logger:      logger,
		OrderTopic:  cfg.Kafka.OrderTopic,
		TicketTopic: cfg.Kafka.TicketTopic,
	})

	lifecycleService := tickets.NewLifecycleService(tickets.LifecycleServiceProperty{
		Tickets:      ticketRepo,
		Inventory:    inventoryRepo,
		Events:       eventRepo,
		Orders:       orderRepo,
		Signer:       signer,
		Producer:     producer,
		Logger:       logger,
		TicketTopic:  cfg.Kafka.TicketTopic,
		CheckInLead:  cfg.Tickets.CheckInLead(),
		RefundWindow: cfg.Orders.RefundWindow(),
	})

	eventService := events.NewEventService(eventRepo, inventoryRepo, redisCache)

	if err := bootstrap.Run(ctx, cfg, logger, bootstrap.Services{
		Orders:     orderService,
		Tickets:    lifecycleService,
		Events:     eventService,
		Reconciler: reconciler,
		Registry:   registry,
	}); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
