package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/bgunisex/salon-commerce/internal/logging"
	"github.com/bgunisex/salon-commerce/internal/orders"
)

var tracer = otel.Tracer("github.com/bgunisex/salon-commerce/internal/reconcile")

// Handler settles an order's payment status from the gateway's own
// record of the transaction. It never touches stock.
type Handler struct {
	Gateway  orders.Gateway
	Orders   orders.OrderStore
	Notifier orders.Notifier
	Events   orders.EventPublisher
	Log      *zap.Logger
	Timeout  time.Duration
}

func (h *Handler) logger() *zap.Logger { return logging.OrNop(h.Log) }

// Verify asks the gateway about txRef and applies the answer:
// successful moves Pending or Failed to Paid, failed moves Pending to
// Failed and returns GatewayVerificationFailed, pending changes nothing.
// Paid orders are never downgraded.
func (h *Handler) Verify(ctx context.Context, txRef string) (o orders.Order, err error) {
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return orders.Order{}, orders.Validation("tx_ref is required")
	}
	ctx, span := tracer.Start(ctx, "reconcile.Verify")
	span.SetAttributes(attribute.String("order.tx_ref", txRef))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(orders.KindOf(err)))
		}
		span.End()
	}()
	log := h.logger().With(zap.String("tx_ref", txRef))

	v, err := h.verify(ctx, txRef)
	if err != nil {
		log.Warn("gateway verification failed", zap.Error(err))
		return orders.Order{}, err
	}
	span.SetAttributes(attribute.String("gateway.status", string(v.Status)))

	switch v.Status {
	case orders.GatewaySuccessful:
		return h.settlePaid(ctx, log, v)
	case orders.GatewayFailed:
		return h.settleFailed(ctx, log, v)
	default:
		return h.Orders.GetByTxRef(ctx, txRef)
	}
}

func (h *Handler) verify(ctx context.Context, txRef string) (orders.Verification, error) {
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}
	v, err := h.Gateway.Verify(ctx, txRef)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return orders.Verification{}, orders.GatewayUnavailable(err)
	}
	switch orders.KindOf(err) {
	case orders.KindGatewayUnavailable, orders.KindGatewayVerificationFailed:
		return orders.Verification{}, err
	}
	return orders.Verification{}, orders.GatewayUnavailable(err)
}

func (h *Handler) settlePaid(ctx context.Context, log *zap.Logger, v orders.Verification) (orders.Order, error) {
	o, err := h.Orders.GetByTxRef(ctx, v.Reference)
	if errors.Is(err, orders.ErrOrderNotFound) {
		h.mismatch(ctx, log, v.Reference, "", "successful payment has no matching order")
		return orders.Order{}, err
	}
	if err != nil {
		return orders.Order{}, err
	}
	if o.PaymentStatus == orders.PaymentPaid {
		return o, nil
	}

	if reason := amountMismatch(o, v); reason != "" {
		h.mismatch(ctx, log, v.Reference, o.ID, reason)
		return orders.Order{}, orders.ReconciliationMismatch(reason)
	}

	updated, changed, err := h.Orders.TransitionPayment(ctx, v.Reference,
		orders.PaymentSources(orders.PaymentPaid), orders.PaymentPaid, v.TransactionID)
	if err != nil {
		return orders.Order{}, err
	}
	if !changed {
		return updated, nil
	}

	log.Info("payment confirmed", zap.String("order_id", updated.ID), zap.String("gateway_tx_id", v.TransactionID))
	if h.Notifier != nil {
		h.Notifier.Notify(ctx, orders.Notification{
			Recipient: updated.Customer.Email,
			Kind:      orders.NotifyPaymentReceipt,
			Data: map[string]any{
				"order_id": updated.ID,
				"name":     updated.Customer.Name,
				"total":    updated.Total.String(),
				"currency": updated.Currency,
			},
		})
	}
	h.publish(ctx, orders.EventPaymentConfirmed, updated.ID, orders.PaymentConfirmedPayload{
		OrderID: updated.ID, TxRef: updated.TxRef, GatewayTxID: v.TransactionID, Amount: v.Amount,
	})
	return updated, nil
}

func amountMismatch(o orders.Order, v orders.Verification) string {
	if v.Currency != "" && o.Currency != "" && !strings.EqualFold(v.Currency, o.Currency) {
		return "currency " + v.Currency + " does not match order currency " + o.Currency
	}
	if v.Amount.LessThan(o.Total) {
		return "paid amount " + v.Amount.String() + " is below order total " + o.Total.String()
	}
	return ""
}

func (h *Handler) settleFailed(ctx context.Context, log *zap.Logger, v orders.Verification) (orders.Order, error) {
	o, changed, err := h.Orders.TransitionPayment(ctx, v.Reference,
		orders.PaymentSources(orders.PaymentFailed), orders.PaymentFailed, v.TransactionID)
	if err != nil {
		return orders.Order{}, err
	}
	if changed {
		log.Info("payment failed", zap.String("order_id", o.ID))
		h.publish(ctx, orders.EventPaymentFailed, o.ID, orders.PaymentFailedPayload{
			OrderID: o.ID, TxRef: o.TxRef, Reason: "gateway reported failure",
		})
	}
	return orders.Order{}, orders.GatewayVerificationFailed("gateway reports transaction " + v.Reference + " as failed")
}

func (h *Handler) mismatch(ctx context.Context, log *zap.Logger, txRef, orderID, reason string) {
	log.Error("reconciliation mismatch",
		zap.String("alert", "reconciliation_mismatch"),
		zap.String("order_id", orderID),
		zap.String("reason", reason))
	key := orderID
	if key == "" {
		key = txRef
	}
	h.publish(ctx, orders.EventReconciliationMismatch, key, orders.ReconciliationMismatchPayload{
		TxRef: txRef, OrderID: orderID, Reason: reason,
	})
}

func (h *Handler) publish(ctx context.Context, eventType, key string, payload any) {
	if h.Events != nil {
		h.Events.PublishEvent(ctx, eventType, key, payload)
	}
}
