package httpx

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bgunisex/salon-commerce/internal/logging"
	"github.com/bgunisex/salon-commerce/internal/orders"
	"github.com/bgunisex/salon-commerce/internal/payment"
)

// WebhookHandler accepts gateway callbacks and forwards them to the
// reconciler. The callback's own status is never acted on here.
type WebhookHandler struct {
	Secret  string
	Forward orders.EventPublisher
	Log     *zap.Logger
}

func (h *WebhookHandler) logger() *zap.Logger { return logging.OrNop(h.Log) }

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/api/payments/webhook", h.receive)
}

func (h *WebhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	if !payment.ValidHash(r.Header.Get(payment.HashHeader), h.Secret) {
		h.logger().Warn("webhook rejected: bad hash", zap.String("remote", r.RemoteAddr))
		writeError(w, h.Log, orders.ErrUnauthorized)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, h.Log, orders.Validation("unreadable body"))
		return
	}
	p, err := payment.ParseWebhook(body)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	h.Forward.PublishEvent(context.WithoutCancel(r.Context()), orders.EventWebhookReceived, p.TxRef, p)
	h.logger().Info("webhook forwarded", zap.String("tx_ref", p.TxRef), zap.String("event_id", p.EventID))
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
