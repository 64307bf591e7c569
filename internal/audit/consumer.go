// Package audit consumes marketplace integration events and mirrors them into the
// document store.
package audit

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/ticket-marketplace/internal/booking"
	"github.com/robertarktes/ticket-marketplace/internal/domain"
	"github.com/robertarktes/ticket-marketplace/internal/observability"
)

// Patterns are the routing keys the consumer binds to.
var Patterns = []string{"booking.*", "listing.*"}

// ErrMalformed marks messages that can never be processed and must not be requeued.
var ErrMalformed = errors.New("malformed message")

type Recorder interface {
	LogBooking(ctx context.Context, key string, ev booking.BookingConfirmed) error
	LogListing(ctx context.Context, key string, ev booking.ListingCreated) error
	LogResale(ctx context.Context, key string, ev booking.ListingSold) error
}

// SoldCounter adds n to an event's sold figure at most once per key.
type SoldCounter interface {
	AddTicketsSold(ctx context.Context, eventID uuid.UUID, key string, n int) error
}

type Consumer struct {
	recorder Recorder
	counter  SoldCounter
	logger   observability.Logger
}

func NewConsumer(recorder Recorder, counter SoldCounter, logger observability.Logger) *Consumer {
	return &Consumer{recorder: recorder, counter: counter, logger: logger}
}

// Handle processes one message. key is the publisher's dedupe key and routingKey the
// event type.
func (c *Consumer) Handle(ctx context.Context, routingKey, key string, body []byte) error {
	switch routingKey {
	case booking.EventBookingConfirmed:
		var ev booking.BookingConfirmed
		if err := json.Unmarshal(body, &ev); err != nil {
			return errors.Mark(errors.Wrap(err, routingKey), ErrMalformed)
		}
		if err := c.recorder.LogBooking(ctx, key, ev); err != nil {
			return err
		}
		// only primary sales add to the sold figure; a resale moves an existing ticket
		if ev.Provenance == domain.ProvenancePrimarySale && len(ev.TicketCodes) > 0 {
			return c.counter.AddTicketsSold(ctx, ev.EventID, key, len(ev.TicketCodes))
		}
		return nil
	case booking.EventListingCreated:
		var ev booking.ListingCreated
		if err := json.Unmarshal(body, &ev); err != nil {
			return errors.Mark(errors.Wrap(err, routingKey), ErrMalformed)
		}
		return c.recorder.LogListing(ctx, key, ev)
	case booking.EventListingSold:
		var ev booking.ListingSold
		if err := json.Unmarshal(body, &ev); err != nil {
			return errors.Mark(errors.Wrap(err, routingKey), ErrMalformed)
		}
		return c.recorder.LogResale(ctx, key, ev)
	default:
		c.logger.WithField("routing_key", routingKey).Debug("ignoring unknown event")
		return nil
	}
}

// Run acknowledges each delivery once handled. Transient failures are requeued;
// malformed messages are dropped.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	c.logger.Info("audit consumer started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("audit consumer stopped")
			return
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed")
				return
			}
			key := d.MessageId
			if key == "" {
				key = d.RoutingKey + ":" + uuid.NewString()
			}
			err := c.Handle(ctx, d.RoutingKey, key, d.Body)
			switch {
			case err == nil:
				d.Ack(false)
			case errors.Is(err, ErrMalformed):
				c.logger.WithField("message_id", d.MessageId).WithError(err).Error("dropping malformed message")
				d.Nack(false, false)
			default:
				c.logger.WithField("message_id", d.MessageId).WithError(err).Warn("handling failed, requeueing")
				d.Nack(false, true)
			}
		}
	}
}
