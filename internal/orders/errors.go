package orders

import (
	"errors"
	"fmt"
)

// Kind classifies failures at component boundaries.
type Kind string

const (
	KindValidation                Kind = "ValidationError"
	KindNotFound                  Kind = "NotFoundError"
	KindInsufficientStock         Kind = "InsufficientStock"
	KindGatewayUnavailable        Kind = "GatewayUnavailable"
	KindGatewayRejected           Kind = "GatewayRejected"
	KindGatewayVerificationFailed Kind = "GatewayVerificationFailed"
	KindPaymentInitFailed         Kind = "PaymentInitFailed"
	KindReconciliationMismatch    Kind = "ReconciliationMismatch"
	KindConflict                  Kind = "Conflict"
	KindUnauthorized              Kind = "Unauthorized"
	KindInternal                  Kind = "Internal"
)

type Error struct {
	Kind      Kind
	Code      string
	Message   string
	ProductID string
	Available int
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind, and on Code when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

var (
	ErrValidation                = &Error{Kind: KindValidation}
	ErrProductNotFound           = &Error{Kind: KindNotFound, Code: "ProductNotFound"}
	ErrOrderNotFound             = &Error{Kind: KindNotFound, Code: "OrderNotFound"}
	ErrInsufficientStock         = &Error{Kind: KindInsufficientStock}
	ErrGatewayUnavailable        = &Error{Kind: KindGatewayUnavailable}
	ErrGatewayRejected           = &Error{Kind: KindGatewayRejected}
	ErrGatewayVerificationFailed = &Error{Kind: KindGatewayVerificationFailed}
	ErrPaymentInitFailed         = &Error{Kind: KindPaymentInitFailed}
	ErrReconciliationMismatch    = &Error{Kind: KindReconciliationMismatch}
	ErrDuplicateOrderID          = &Error{Kind: KindConflict, Code: "DuplicateOrderID"}
	ErrConflict                  = &Error{Kind: KindConflict}
	ErrUnauthorized              = &Error{Kind: KindUnauthorized, Message: "authentication required"}
)

func Validation(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func ProductNotFound(id string) error {
	return &Error{Kind: KindNotFound, Code: "ProductNotFound", ProductID: id,
		Message: fmt.Sprintf("product with ID %s not found", id)}
}

func OrderNotFound(key string) error {
	return &Error{Kind: KindNotFound, Code: "OrderNotFound", Message: fmt.Sprintf("order %s not found", key)}
}

func InsufficientStock(productID, name string, available int) error {
	if name == "" {
		name = productID
	}
	return &Error{Kind: KindInsufficientStock, ProductID: productID, Available: available,
		Message: fmt.Sprintf("insufficient stock for product %s. Available: %d", name, available)}
}

func GatewayUnavailable(err error) error {
	return &Error{Kind: KindGatewayUnavailable, Message: "payment gateway unavailable", Err: err}
}

func GatewayRejected(msg string) error {
	return &Error{Kind: KindGatewayRejected, Message: "payment gateway rejected request: " + msg}
}

func GatewayVerificationFailed(msg string) error {
	return &Error{Kind: KindGatewayVerificationFailed, Message: "payment verification failed: " + msg}
}

// PaymentInitFailed wraps the gateway failure that aborted an order attempt.
func PaymentInitFailed(cause error) error {
	return &Error{Kind: KindPaymentInitFailed, Message: "Payment initialization failed", Err: cause}
}

func ReconciliationMismatch(msg string) error {
	return &Error{Kind: KindReconciliationMismatch, Message: "reconciliation mismatch: " + msg}
}

func Conflict(msg string) error {
	return &Error{Kind: KindConflict, Message: msg}
}

func Internal(msg string, err error) error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal for anything untyped.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
