package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/ticket-marketplace/internal/adapters/crdb"
	"github.com/robertarktes/ticket-marketplace/internal/adapters/memstore"
	mongoadapter "github.com/robertarktes/ticket-marketplace/internal/adapters/mongo"
	"github.com/robertarktes/ticket-marketplace/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/ticket-marketplace/internal/adapters/redis"
	"github.com/robertarktes/ticket-marketplace/internal/booking"
	"github.com/robertarktes/ticket-marketplace/internal/config"
	httphandler "github.com/robertarktes/ticket-marketplace/internal/http"
	"github.com/robertarktes/ticket-marketplace/internal/idempotency"
	"github.com/robertarktes/ticket-marketplace/internal/observability"
	"github.com/robertarktes/ticket-marketplace/internal/outbox"
	"github.com/robertarktes/ticket-marketplace/internal/rateLimit"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.SetupOTel(ctx, cfg, "ticket-marketplace-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger(cfg.LogLevel)

	var (
		store   booking.Store
		source  outbox.Source
		pingers []httphandler.Pinger
	)
	switch cfg.Store {
	case "memory":
		mem := memstore.New()
		store = mem
		logger.Warn("using in-memory store, state is lost on restart")
		if cfg.RabbitURL != "" {
			source = mem
		} else {
			mem.DiscardOutbox()
			logger.Warn("RABBIT_URL not set, integration events are discarded")
		}
	default:
		if cfg.CRDBDSN == "" {
			log.Fatal("CRDB_DSN is required unless STORE=memory")
		}
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			log.Fatalf("failed to connect to crdb: %v", err)
		}
		defer pool.Close()
		repo := crdb.NewRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			log.Fatalf("failed to migrate schema: %v", err)
		}
		// the outbox-publisher binary relays crdb rows
		store = repo
		pingers = append(pingers, pool)
	}

	engine := booking.NewEngine(store, logger, booking.Options{
		MaxRetries:     cfg.TxMaxRetries,
		RetryBaseDelay: cfg.TxRetryBaseDelay,
		RetryMaxDelay:  cfg.TxRetryMaxDelay,
	})

	var catalog httphandler.Catalog
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		catalog = mongoadapter.NewCatalogRepository(mongoClient.Database(cfg.MongoDB), logger)
		pingers = append(pingers, pingFunc(func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }))
	}

	var (
		idemp *idempotency.Idempotency
		rl    *rateLimit.RateLimiter
	)
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		redisCache := redisadapter.NewCache(redisClient)
		idemp = idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
		rl = rateLimit.NewRateLimiter(redisCache)
		pingers = append(pingers, redisCache)
	}

	var relay *outbox.Publisher
	if source != nil && cfg.RabbitURL != "" {
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer conn.Close()
		pub, err := rabbit.NewPublisher(conn)
		if err != nil {
			log.Fatalf("failed to create publisher: %v", err)
		}
		defer pub.Close()
		relay = outbox.NewPublisher(source, pub, logger, cfg.OutboxInterval, cfg.OutboxBatch)
	}

	handlers := httphandler.NewHandlers(engine, catalog, idemp, logger, pingers...)
	r, err := httphandler.SetupRouter(handlers, logger, rl, httphandler.RouterConfig{
		JWTPublicKey:     cfg.JWTPublicKey,
		RateLimitPerUser: cfg.RateLimitPerUser,
		RateLimitPerIP:   cfg.RateLimitPerIP,

		PaymentWebhookSecret: cfg.PaymentWebhookSecret,
	})
	if err != nil {
		log.Fatalf("failed to build router: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if relay != nil {
		g.Go(func() error {
			relay.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped with error")
	}
	logger.Info("server exiting")
}
