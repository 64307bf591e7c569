package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/ticket-marketplace/internal/adapters/crdb"
	"github.com/robertarktes/ticket-marketplace/internal/adapters/rabbit"
	"github.com/robertarktes/ticket-marketplace/internal/config"
	"github.com/robertarktes/ticket-marketplace/internal/observability"
	"github.com/robertarktes/ticket-marketplace/internal/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "ticket-marketplace-outbox")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	defer rabbitPub.Close()

	publisher := outbox.NewPublisher(repo, rabbitPub, logger, cfg.OutboxInterval, cfg.OutboxBatch)
	publisher.Run(ctx)
	logger.Info("shutdown outbox publisher")
}
