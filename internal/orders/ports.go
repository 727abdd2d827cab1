package orders

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Catalog is the per-line product store. Reserve must be all-or-nothing
// and must debit with a conditional "stock >= qty" update, never a
// read-then-write.
type Catalog interface {
	Get(ctx context.Context, line Line, id string) (Product, error)
	List(ctx context.Context, line Line) ([]Product, error)

	// Reserve debits stock and credits sales for every item under
	// attemptID, returning the items priced from the live catalog.
	Reserve(ctx context.Context, line Line, attemptID string, items []CartItem) ([]LineItem, error)
	// Release restores what attemptID reserved. It reports false when
	// there was nothing left to release.
	Release(ctx context.Context, attemptID string) (bool, error)
	// Confirm makes attemptID's reservation final.
	Confirm(ctx context.Context, attemptID, orderID string) error
}

type OrderStore interface {
	// Create fails with ErrDuplicateOrderID when the id was ever issued.
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, line Line, id string) (Order, error)
	GetByTxRef(ctx context.Context, txRef string) (Order, error)
	List(ctx context.Context, line Line, limit int) ([]Order, error)
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]Order, error)

	// TransitionPayment moves the order identified by txRef to `to` only
	// when its current status is one of `from`. changed is false when the
	// order exists but was not in an accepted state.
	TransitionPayment(ctx context.Context, txRef string, from []PaymentStatus, to PaymentStatus, gatewayTxID string) (o Order, changed bool, err error)
	// UpdateStatus is a compare-and-set on the fulfillment status.
	UpdateStatus(ctx context.Context, line Line, id string, from, to FulfillmentStatus) (Order, error)
	Delete(ctx context.Context, line Line, id string) error
}

type GatewayStatus string

const (
	GatewaySuccessful GatewayStatus = "successful"
	GatewayFailed     GatewayStatus = "failed"
	GatewayPending    GatewayStatus = "pending"
)

type SessionRequest struct {
	Reference   string
	Amount      decimal.Decimal
	Currency    string
	Customer    Customer
	RedirectURL string
	Meta        map[string]string
}

type PaymentSession struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

type Verification struct {
	Reference     string
	Status        GatewayStatus
	Amount        decimal.Decimal
	Currency      string
	TransactionID string
}

// Gateway is the external payment provider.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (PaymentSession, error)
	Verify(ctx context.Context, reference string) (Verification, error)
}

// Notifier must not block the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// EventPublisher emits order lifecycle events, fire-and-forget.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType, key string, payload any)
}

// Principal is the caller identity supplied by the identity provider.
type Principal struct {
	CustomerID string `json:"customer_id"`
	Email      string `json:"email,omitempty"`
}

// IdempotentResult is what a completed Idempotency-Key replays: the
// order it created and the payment link the client was sent to.
type IdempotentResult struct {
	OrderID     string `json:"order_id"`
	RedirectURL string `json:"redirect_url,omitempty"`
}
