package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const Exchange = "tm.events"

var ErrNotConfirmed = errors.New("broker did not confirm publish")

// Publisher sends to the events exchange on a channel in confirm mode, so a nil error
// from Publish means the broker took responsibility for the message.
type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, errors.Wrap(err, "declare exchange")
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, errors.Wrap(err, "enable publisher confirms")
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	if msg.DeliveryMode == 0 {
		msg.DeliveryMode = amqp.Persistent
	}
	conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, Exchange, key, false, false, msg)
	if err != nil {
		return err
	}
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errors.Wrapf(ErrNotConfirmed, "routing key %s", key)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
