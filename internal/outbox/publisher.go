package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/ticket-marketplace/internal/domain"
	"github.com/robertarktes/ticket-marketplace/internal/observability"
)

// Source hands out committed, unpublished outbox events. Both the CockroachDB
// repository and the in-memory store implement it.
type Source interface {
	RelayOutbox(ctx context.Context, limit int, publish func(ctx context.Context, rec domain.OutboxEvent) error) (int, time.Duration, error)
}

type Sink interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Publisher struct {
	source   Source
	sink     Sink
	logger   observability.Logger
	interval time.Duration
	batch    int
}

func NewPublisher(source Source, sink Sink, logger observability.Logger, interval time.Duration, batch int) *Publisher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	return &Publisher{source: source, sink: sink, logger: logger, interval: interval, batch: batch}
}

func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("outbox publisher started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox publisher stopped")
			return
		case <-ticker.C:
			// Drain full batches before waiting for the next tick.
			for {
				n, err := p.RelayOnce(ctx)
				if err != nil {
					p.logger.WithError(err).Error("outbox relay failed")
					break
				}
				if n < p.batch {
					break
				}
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many records went out.
func (p *Publisher) RelayOnce(ctx context.Context) (int, error) {
	n, lag, err := p.source.RelayOutbox(ctx, p.batch, func(ctx context.Context, rec domain.OutboxEvent) error {
		msg := amqp.Publishing{
			MessageId:    rec.DedupeKey,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    rec.CreatedAt,
			Type:         rec.EventType,
			Body:         rec.Payload,
		}
		if err := p.sink.Publish(ctx, rec.EventType, msg); err != nil {
			observability.OutboxPublishFailures.Inc()
			p.logger.WithField("outbox_id", rec.ID).WithError(err).Warn("publish failed, will retry")
			return err
		}
		return nil
	})
	observability.OutboxLag.Set(lag.Seconds())
	if n > 0 {
		p.logger.WithField("published", n).Debug("outbox batch relayed")
	}
	return n, err
}
