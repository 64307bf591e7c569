package booking

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/robertarktes/ticket-marketplace/internal/domain"
	"github.com/robertarktes/ticket-marketplace/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Options struct {
	// MaxRetries bounds how many times a conflicting transaction is re-run.
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:     5,
		RetryBaseDelay: 10 * time.Millisecond,
		RetryMaxDelay:  250 * time.Millisecond,
	}
}

// Engine owns every read-modify-write of event inventory, bookings and resale listings.
type Engine struct {
	store  Store
	logger observability.Logger
	tracer trace.Tracer
	opts   Options
}

func NewEngine(store Store, logger observability.Logger, opts Options) *Engine {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = DefaultOptions().RetryBaseDelay
	}
	if opts.RetryMaxDelay < opts.RetryBaseDelay {
		opts.RetryMaxDelay = opts.RetryBaseDelay
	}
	return &Engine{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("booking"),
		opts:   opts,
	}
}

// runTx executes fn in a store transaction, re-running it on serialization conflicts
// with jittered exponential backoff. Once retries are exhausted the caller gets
// domain.ErrContention. Any other error ends the loop at once.
func (e *Engine) runTx(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.RetryBaseDelay
	b.MaxInterval = e.opts.RetryMaxDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.opts.MaxRetries)), ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		start := time.Now()
		err := e.store.WithTx(ctx, fn)
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
		if err == nil || domain.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, wait time.Duration) {
		observability.TxRetries.WithLabelValues(op).Inc()
		e.logger.WithField("op", op).WithField("attempt", attempts).Debug("transaction conflict, retrying in ", wait)
	})
	if domain.IsRetryable(err) {
		observability.TxContention.WithLabelValues(op).Inc()
		e.logger.WithField("op", op).WithField("attempts", attempts).Warn("transaction retries exhausted")
		return errors.Wrapf(domain.ErrContention, "%s after %d attempts", op, attempts)
	}
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
