package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tm_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tm_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	TxRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tm_tx_retries_total",
			Help: "Transactions re-run after a serialization conflict",
		},
		[]string{"op"},
	)

	TxContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tm_tx_contention_total",
			Help: "Transactions that exhausted their retries",
		},
		[]string{"op"},
	)

	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tm_bookings_total",
			Help: "Confirmed bookings by provenance",
		},
		[]string{"provenance"},
	)

	TicketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tm_tickets_issued_total",
			Help: "Ticket codes minted by primary sales",
		},
	)

	ResaleSales = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tm_resale_sales_total",
			Help: "Resale listings sold",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tm_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	OutboxPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tm_outbox_publish_failures_total",
			Help: "Outbox records that failed to publish",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tm_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	PaymentCallbacksRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tm_payment_callbacks_rejected_total",
			Help: "Payment callbacks with a missing or invalid signature",
		},
	)
)
