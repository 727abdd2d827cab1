package reconcile

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/bgunisex/salon-commerce/internal/kafka"
	"github.com/bgunisex/salon-commerce/internal/logging"
	"github.com/bgunisex/salon-commerce/internal/orders"
)

type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// WebhookConsumer reconciles gateway callbacks forwarded onto Kafka.
type WebhookConsumer struct {
	Handler *Handler
	Dedup   Deduper
	Log     *zap.Logger
}

func (w *WebhookConsumer) logger() *zap.Logger { return logging.OrNop(w.Log) }

// Handle is a kafka.Handler. It returns an error only when the message
// should be retried: the gateway or a store was unreachable.
func (w *WebhookConsumer) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		w.logger().Warn("dropping undecodable webhook message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventWebhookReceived {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.WebhookPayload](env.Payload)
	if err != nil {
		w.logger().Warn("dropping webhook with bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	dedupID := p.EventID
	if dedupID == "" {
		dedupID = env.EventID
	}
	seen, err := w.Dedup.Seen(ctx, dedupID)
	if err != nil {
		return err
	}
	if seen {
		w.logger().Debug("duplicate webhook", zap.String("event_id", dedupID))
		return nil
	}

	log := w.logger().With(zap.String("event_id", dedupID), zap.String("tx_ref", p.TxRef))
	o, err := w.Handler.Verify(ctx, p.TxRef)
	if err != nil {
		if retryable(err) {
			if ferr := w.Dedup.Forget(ctx, dedupID); ferr != nil {
				log.Warn("dedup key not released", zap.Error(ferr))
			}
			return err
		}
		log.Info("webhook settled without payment", zap.String("kind", string(orders.KindOf(err))), zap.Error(err))
		return nil
	}
	if o.PaymentStatus == orders.PaymentPending {
		// the gateway has no verdict yet; a redelivery must be able to try again
		if ferr := w.Dedup.Forget(ctx, dedupID); ferr != nil {
			log.Warn("dedup key not released", zap.Error(ferr))
		}
	}
	log.Info("webhook reconciled", zap.String("order_id", o.ID), zap.String("payment_status", string(o.PaymentStatus)))
	return nil
}

func retryable(err error) bool {
	switch orders.KindOf(err) {
	case orders.KindGatewayUnavailable, orders.KindInternal:
		return true
	}
	return false
}
