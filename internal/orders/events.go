package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced            = "OrderPlaced"
	EventPaymentConfirmed       = "PaymentConfirmed"
	EventPaymentFailed          = "PaymentFailed"
	EventReconciliationMismatch = "ReconciliationMismatch"
	EventWebhookReceived        = "PaymentWebhookReceived"
	EventNotification           = "NotificationRequested"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id or tx_ref
	Payload       json.RawMessage `json:"payload"`
}

type OrderPlacedPayload struct {
	OrderID string          `json:"order_id"`
	Line    Line            `json:"line"`
	TxRef   string          `json:"tx_ref"`
	Items   []LineItem      `json:"items"`
	Total   decimal.Decimal `json:"total"`
}

type PaymentConfirmedPayload struct {
	OrderID     string          `json:"order_id"`
	TxRef       string          `json:"tx_ref"`
	GatewayTxID string          `json:"gateway_tx_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

type PaymentFailedPayload struct {
	OrderID string `json:"order_id"`
	TxRef   string `json:"tx_ref"`
	Reason  string `json:"reason"`
}

type ReconciliationMismatchPayload struct {
	TxRef   string `json:"tx_ref"`
	OrderID string `json:"order_id,omitempty"`
	Reason  string `json:"reason"`
}

// WebhookPayload is what the API forwards from the gateway callback.
// Only EventID and TxRef are trusted; status is always re-verified.
type WebhookPayload struct {
	EventID string `json:"event_id"`
	TxRef   string `json:"tx_ref"`
	Raw     []byte `json:"raw,omitempty"`
}

// Notification is handed to the notification service without waiting.
type Notification struct {
	Recipient string         `json:"recipient"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

const (
	NotifyOrderPlaced    = "order_placed"
	NotifyPaymentReceipt = "payment_receipt"
)
