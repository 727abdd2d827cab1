package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/bgunisex/salon-commerce/internal/orders"
)

const eventVersion = 1

// EventPublisher wraps payloads in an Envelope keyed by order id or
// tx_ref, so every event of one order lands on one partition.
type EventPublisher struct {
	Producer *Producer
	Service  string
}

func (e *EventPublisher) PublishEvent(ctx context.Context, eventType, key string, payload any) {
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.Service,
		CorrelationID: key,
		Payload:       MustMarshal(payload),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	e.Producer.Publish(orders.PartitionKey(key), MustMarshal(env),
		kafka.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(eventVersion))},
	)
}

// Notifier hands notifications to the notification service topic.
type Notifier struct {
	Events *EventPublisher
}

func (n *Notifier) Notify(ctx context.Context, note orders.Notification) {
	n.Events.PublishEvent(ctx, orders.EventNotification, note.Recipient, note)
}
