package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	mongoadapter "github.com/robertarktes/ticket-marketplace/internal/adapters/mongo"
	"github.com/robertarktes/ticket-marketplace/internal/adapters/rabbit"
	"github.com/robertarktes/ticket-marketplace/internal/audit"
	"github.com/robertarktes/ticket-marketplace/internal/config"
	"github.com/robertarktes/ticket-marketplace/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "ticket-marketplace-audit")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	db := mongoClient.Database(cfg.MongoDB)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	sub, err := rabbit.NewConsumer(conn, cfg.AuditQueue, audit.Patterns...)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer sub.Close()

	deliveries, err := sub.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume: %v", err)
	}

	consumer := audit.NewConsumer(
		mongoadapter.NewAuditLogger(db, logger),
		mongoadapter.NewCatalogRepository(db, logger),
		logger,
	)
	consumer.Run(ctx, deliveries)
	logger.Info("shutdown audit consumer")
}
