package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	Store        string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	AuditQueue   string
	JWTPublicKey string
	OTLPEndpoint string
	LogLevel     string

	TxMaxRetries     int
	TxRetryBaseDelay time.Duration
	TxRetryMaxDelay  time.Duration
	IdempotencyTTL   time.Duration
	OutboxInterval   time.Duration
	OutboxBatch      int
	RateLimitPerUser int
	RateLimitPerIP   int

	// PaymentWebhookSecret signs payment processor callbacks.
	PaymentWebhookSecret string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		Store:        getenv("STORE", "crdb"),
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		MongoDB:      getenv("MONGO_DB", "ticketmarket"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		AuditQueue:   getenv("AUDIT_QUEUE", "audit.q"),
		JWTPublicKey: os.Getenv("JWT_PUBLIC_KEY"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:     getenv("LOG_LEVEL", "info"),

		TxMaxRetries:     getint("TX_MAX_RETRIES", 5),
		TxRetryBaseDelay: getduration("TX_RETRY_BASE_DELAY", 10*time.Millisecond),
		TxRetryMaxDelay:  getduration("TX_RETRY_MAX_DELAY", 250*time.Millisecond),
		IdempotencyTTL:   getduration("IDEMPOTENCY_TTL", time.Hour),
		OutboxInterval:   getduration("OUTBOX_INTERVAL", 5*time.Second),
		OutboxBatch:      getint("OUTBOX_BATCH", 50),
		RateLimitPerUser: getint("RATE_LIMIT_USER", 10),
		RateLimitPerIP:   getint("RATE_LIMIT_IP", 100),

		PaymentWebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
	}

	if cfg.Store != "crdb" && cfg.Store != "memory" {
		return nil, errors.Newf("unknown STORE %q", cfg.Store)
	}
	if cfg.TxMaxRetries < 0 {
		return nil, errors.Newf("TX_MAX_RETRIES must not be negative, got %d", cfg.TxMaxRetries)
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return n
}

func getduration(key string, def time.Duration) time.Duration {
	d, _ := time.ParseDuration(os.Getenv(key))
	if d == 0 {
		return def
	}
	return d
}
