package rabbit

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Consumer struct {
	ch    *amqp.Channel
	queue string
}

// NewConsumer declares a durable queue bound to the events exchange for each of the
// routing patterns.
func NewConsumer(conn *amqp.Connection, queue string, patterns ...string) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, err
	}
	for _, p := range patterns {
		if err := ch.QueueBind(queue, p, Exchange, false, nil); err != nil {
			return nil, err
		}
	}
	if err := ch.Qos(16, 0, false); err != nil {
		return nil, err
	}
	return &Consumer{ch: ch, queue: queue}, nil
}

func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
