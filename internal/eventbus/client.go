package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

type ExchangeType string

const (
	DirectExchangeType ExchangeType = "direct"
	FanoutExchangeType ExchangeType = "fanout"
	TopicExchangeType  ExchangeType = "topic"
)

// Subscription names the exchange and queue a consumer binds to.
type Subscription struct {
	Exchange     string
	ExchangeType ExchangeType
	Queue        string
	RoutingKey   string
}

// Handler processes one delivery. A nil error acknowledges it.
type Handler func(ctx context.Context, body []byte) error

// EventBus is the contract every broker implementation satisfies.
type EventBus interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Subscribe(ctx context.Context, sub Subscription, handler Handler) error
	Close()
}

// RabbitMQEventBus publishes to one durable exchange and consumes from any
// number of bound queues.
type RabbitMQEventBus struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger
}

// NewRabbitMQEventBus connects to the RabbitMQ server and declares the
// durable exchange events are published to.
func NewRabbitMQEventBus(amqpURI, exchange string, exchangeType ExchangeType, logger *slog.Logger) (*RabbitMQEventBus, error) {
	conn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareExchange(ch, exchange, exchangeType); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &RabbitMQEventBus{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

func declareExchange(ch *amqp.Channel, name string, kind ExchangeType) error {
	err := ch.ExchangeDeclare(
		name,         // name
		string(kind), // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", name, err)
	}
	return nil
}

// Publish serializes the event and sends it to the exchange.
func (eb *RabbitMQEventBus) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}

	return eb.channel.PublishWithContext(
		ctx,
		eb.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		publishing,
	)
}

// Subscribe declares and binds the queue, then consumes it on a dedicated
// channel until ctx is done. Failed deliveries are rejected without requeue.
func (eb *RabbitMQEventBus) Subscribe(ctx context.Context, sub Subscription, handler Handler) error {
	ch, err := eb.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}

	kind := sub.ExchangeType
	if kind == "" {
		kind = TopicExchangeType
	}
	if err := declareExchange(ch, sub.Exchange, kind); err != nil {
		ch.Close()
		return err
	}

	q, err := ch.QueueDeclare(
		sub.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare queue %q: %w", sub.Queue, err)
	}

	if err := ch.QueueBind(q.Name, sub.RoutingKey, sub.Exchange, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("failed to bind queue %q: %w", q.Name, err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to consume queue %q: %w", q.Name, err)
	}

	go func() {
		defer ch.Close()
		for d := range deliveries {
			if err := handler(ctx, d.Body); err != nil {
				eb.logger.Error("Failed to handle event",
					slog.String("queue", q.Name),
					slog.String("routing_key", d.RoutingKey),
					slog.Any("error", err),
				)
				d.Nack(false, false)
				continue
			}
			d.Ack(false)
		}
		eb.logger.Info("Event consumer stopped", slog.String("queue", q.Name))
	}()

	return nil
}

// Close closes the RabbitMQ channel and connection.
func (eb *RabbitMQEventBus) Close() {
	if eb.channel != nil {
		eb.channel.Close()
	}
	if eb.conn != nil {
		eb.conn.Close()
	}
}
