// The access event bus broadcasts portal access events on a fanout exchange
// and listens for permission changes published by the backend. Consumers of
// the access events bind their own queues to the exchange; every bound queue
// receives a copy of every event.

package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opencrafts-io/interventoria/internal/config"
	"github.com/opencrafts-io/interventoria/internal/guard"
	"github.com/opencrafts-io/interventoria/internal/middleware"
)

const (
	sourceServiceID = "io.opencrafts.interventoria.portal"
	publishTimeout  = 5 * time.Second
)

// AccessEventBus provides a type-safe API over an EventBus.
type AccessEventBus struct {
	bus    EventBus
	logger *slog.Logger
	now    func() time.Time
}

// NewAccessEventBus connects to RabbitMQ using the configured exchange.
func NewAccessEventBus(cfg *config.Config, logger *slog.Logger) (*AccessEventBus, error) {
	rabbitMQConnString := fmt.Sprintf("amqp://%s:%s@%s:%d/",
		cfg.RabbitMQConfig.RabbitMQUser,
		cfg.RabbitMQConfig.RabbitMQPass,
		cfg.RabbitMQConfig.RabbitMQAddress,
		cfg.RabbitMQConfig.RabbitMQPort,
	)

	rabbitMQBus, err := NewRabbitMQEventBus(
		rabbitMQConnString,
		cfg.RabbitMQConfig.Exchange,
		FanoutExchangeType,
		logger,
	)
	if err != nil {
		logger.Error("Failed to initialize RabbitMQ event bus", slog.Any("error", err))
		return nil, fmt.Errorf("failed to initialize RabbitMQ event bus: %w", err)
	}

	return NewAccessEventBusWithBus(rabbitMQBus, logger), nil
}

func NewAccessEventBusWithBus(bus EventBus, logger *slog.Logger) *AccessEventBus {
	return &AccessEventBus{bus: bus, logger: logger, now: time.Now}
}

func (b *AccessEventBus) metadata(eventType, requestID string) EventMetadata {
	return EventMetadata{
		EventType:       eventType,
		Timestamp:       b.now(),
		SourceServiceID: sourceServiceID,
		RequestID:       requestID,
	}
}

// PublishAccessDenied publishes an access.denied event for a guard decision.
func (b *AccessEventBus) PublishAccessDenied(ctx context.Context, d guard.Decision, requestID string) error {
	event := AccessDeniedEvent{
		SubjectID:   d.SubjectID,
		RoleClaim:   d.RoleClaim,
		Resource:    string(d.Resource),
		Destination: d.Destination,
		Metadata:    b.metadata(EventAccessDenied, requestID),
	}

	b.logger.Info("Publishing access denied event",
		slog.String("subject", d.SubjectID),
		slog.String("resource", string(d.Resource)),
		slog.String("request_id", requestID),
	)
	return b.bus.Publish(ctx, EventAccessDenied, event)
}

// PublishSignedOut publishes a session.signed_out event.
func (b *AccessEventBus) PublishSignedOut(ctx context.Context, subject, requestID string) error {
	event := SignedOutEvent{
		SubjectID: subject,
		Metadata:  b.metadata(EventSessionSignedOut, requestID),
	}

	b.logger.Info("Publishing signed out event",
		slog.String("subject", subject),
		slog.String("request_id", requestID),
	)
	return b.bus.Publish(ctx, EventSessionSignedOut, event)
}

// ObserveDecision publishes denials. Publishing never blocks the request
// longer than publishTimeout and failures are only logged.
func (b *AccessEventBus) ObserveDecision(ctx context.Context, d guard.Decision) {
	if d.State != guard.StateDenied {
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := b.PublishAccessDenied(pubCtx, d, middleware.GetRequestID(ctx)); err != nil {
		b.logger.Error("Failed to publish access denied event", slog.Any("error", err))
	}
}

// SubscribePermissionChanges calls onChange with the subject of every
// permissions.changed event received on the queue.
func (b *AccessEventBus) SubscribePermissionChanges(ctx context.Context, exchange, queue string, onChange func(ctx context.Context, subject string) error) error {
	sub := Subscription{
		Exchange:     exchange,
		ExchangeType: TopicExchangeType,
		Queue:        queue,
		RoutingKey:   EventPermissionsChanged,
	}

	return b.bus.Subscribe(ctx, sub, func(ctx context.Context, body []byte) error {
		var event PermissionsChangedEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return fmt.Errorf("failed to decode permissions changed event: %w", err)
		}
		if event.SubjectID == "" {
			return errors.New("permissions changed event without subject")
		}

		b.logger.Info("Received permissions changed event",
			slog.String("subject", event.SubjectID),
			slog.String("request_id", event.Metadata.RequestID),
		)
		return onChange(ctx, event.SubjectID)
	})
}

func (b *AccessEventBus) Close() {
	b.bus.Close()
}
