package kafka

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bgunisex/salon-commerce/internal/orders"
)

// Producers are never started here, so messages stay in the inbox.
func newProducer(buf int) (*Producer, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return NewProducer([]string{"127.0.0.1:9092"}, "order.events", buf, zap.New(core)), logs
}

func TestPublishDropsWhenFull(t *testing.T) {
	p, logs := newProducer(1)
	assert.True(t, p.Publish([]byte("k"), []byte("1")))
	assert.False(t, p.Publish([]byte("k"), []byte("2")))
	assert.Equal(t, 1, logs.FilterMessage("producer buffer full, message dropped").Len())

	p.Close()
	p.Close()
	assert.False(t, p.Publish([]byte("k"), []byte("3")))
}

func TestEventPublisherEnvelope(t *testing.T) {
	p, _ := newProducer(4)
	pub := &EventPublisher{Producer: p, Service: "commerce-api"}

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(),
		trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID}))

	pub.PublishEvent(ctx, orders.EventOrderPlaced, "ORD-1", orders.OrderPlacedPayload{
		OrderID: "ORD-1", Line: orders.LineHair, Total: decimal.NewFromInt(20),
	})

	m := <-p.inbox
	assert.Equal(t, "ORD-1", string(m.Key))
	require.Len(t, m.Headers, 2)
	assert.Equal(t, orders.EventOrderPlaced, string(m.Headers[0].Value))

	env, err := DecodeEnvelope(m.Value)
	require.NoError(t, err)
	assert.Equal(t, orders.EventOrderPlaced, env.EventType)
	assert.Equal(t, "commerce-api", env.Producer)
	assert.Equal(t, "ORD-1", env.CorrelationID)
	assert.Equal(t, traceID.String(), env.TraceID)
	assert.NotEmpty(t, env.EventID)

	payload, err := UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
	require.NoError(t, err)
	assert.True(t, payload.Total.Equal(decimal.NewFromInt(20)))
}

func TestNotifier(t *testing.T) {
	p, _ := newProducer(4)
	n := &Notifier{Events: &EventPublisher{Producer: p, Service: "commerce-api"}}

	n.Notify(context.Background(), orders.Notification{
		Recipient: "ada@example.com",
		Kind:      orders.NotifyPaymentReceipt,
		Data:      map[string]any{"order_id": "ORD-1"},
	})

	m := <-p.inbox
	env, err := DecodeEnvelope(m.Value)
	require.NoError(t, err)
	assert.Equal(t, orders.EventNotification, env.EventType)
	assert.Empty(t, env.TraceID)

	note, err := UnwrapPayload[orders.Notification](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, orders.NotifyPaymentReceipt, note.Kind)
	assert.Equal(t, "ORD-1", note.Data["order_id"])
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, err := DecodeEnvelope([]byte("{"))
	assert.Error(t, err)
	_, err = UnwrapPayload[orders.WebhookPayload]([]byte(`"x"`))
	assert.Error(t, err)
}
