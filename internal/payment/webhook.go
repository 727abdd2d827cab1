package payment

import (
	"crypto/subtle"
	"encoding/json"

	"github.com/bgunisex/salon-commerce/internal/orders"
)

// HashHeader carries the shared secret on gateway callbacks.
const HashHeader = "verif-hash"

// ValidHash compares the callback secret in constant time. An empty
// configured secret accepts nothing.
func ValidHash(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

type webhookBody struct {
	Event string `json:"event"`
	Data  struct {
		ID     flexID `json:"id"`
		TxRef  string `json:"tx_ref"`
		Status string `json:"status"`
	} `json:"data"`
}

// ParseWebhook extracts the reference and a dedup id from a callback
// body. The reported status only feeds the dedup id; reconciliation
// re-verifies with the gateway.
func ParseWebhook(body []byte) (orders.WebhookPayload, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return orders.WebhookPayload{}, orders.Validation("malformed webhook body")
	}
	if wb.Data.TxRef == "" {
		return orders.WebhookPayload{}, orders.Validation("webhook has no tx_ref")
	}
	id := string(wb.Data.ID)
	if id == "" {
		id = wb.Data.TxRef
	}
	return orders.WebhookPayload{
		EventID: wb.Event + ":" + id + ":" + wb.Data.Status,
		TxRef:   wb.Data.TxRef,
		Raw:     body,
	}, nil
}
