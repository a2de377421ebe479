package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/ivmarkov/ticketflow/config"
	"github.com/ivmarkov/ticketflow/internal/email"
	"github.com/ivmarkov/ticketflow/internal/gateway"
	"github.com/ivmarkov/ticketflow/internal/kafka"
	"github.com/ivmarkov/ticketflow/internal/repository"
	"github.com/ivmarkov/ticketflow/internal/service/order"
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

	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	provider := gateway.WithBreaker(gateway.WithRetry(gateway.NewPayvaultProvider(
		cfg.Gateway.BaseURL,
		cfg.Gateway.BasicAuthKey,
		cfg.Gateway.WebhookSecret,
		logger,
		&http.Client{Timeout: cfg.Gateway.Timeout()},
	), cfg.Gateway.MaxRetries))

	orderService := order.NewOrderService(order.OrderServiceProperty{
		Orders:         repository.NewOrderRepository(pool),
		Inventory:      repository.NewInventoryRepository(pool),
		Events:         repository.NewEventRepository(pool),
		Provider:       provider,
		Producer:       producer,
		Logger:         logger,
		OrderTopic:     cfg.Kafka.OrderTopic,
		ReservationTTL: cfg.Orders.ReservationTTL(),
		FeePercent:     cfg.Orders.ServiceFeePercent,
		TaxPercent:     cfg.Orders.TaxPercent,
		SweepBatchSize: cfg.Worker.SweepBatchSize,
	})

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.OrderTopic, cfg.Kafka.TicketTopic)
	defer consumer.Close()

	emailSender := email.NewSender()

	go func() {
		if err := consumer.Consume(ctx, func(ctx context.Context, msg kafkaGo.Message) error {
			var event kafka.OrderEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				logger.WithError(err).Warn("decode notification event")
				return nil
			}
			return emailSender.Send(ctx, event)
		}); err != nil {
			logger.WithError(err).Info("consumer stopped")
		}
	}()

	sweepEvery := time.Duration(cfg.Worker.ExpirationSweepMinutes) * time.Minute
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("create scheduler: %v", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(sweepEvery),
		gocron.NewTask(func() {
			expired, err := orderService.ExpirePending(ctx)
			if err != nil {
				logger.WithError(err).Error("expire pending orders")
				return
			}
			if len(expired) > 0 {
				logger.WithField("count", len(expired)).Info("expired pending orders")
			}
		}),
	)
	if err != nil {
		log.Fatalf("schedule expiration sweep: %v", err)
	}

	scheduler.Start()
	defer func() { _ = scheduler.Shutdown() }()

	<-ctx.Done()
	logger.Info("shutting down")
}
