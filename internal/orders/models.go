package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Line is a product line with its own catalog and order book.
type Line string

const (
	LineHair    Line = "hair"
	LinePoultry Line = "poultry"
)

func ParseLine(s string) (Line, error) {
	switch l := Line(strings.ToLower(strings.TrimSpace(s))); l {
	case LineHair, LinePoultry:
		return l, nil
	}
	return "", Validation(fmt.Sprintf("unknown product line %q", s))
}

// RefTag prefixes transaction references issued for this line.
func (l Line) RefTag() string { return strings.ToUpper(string(l)) }

type Product struct {
	ID        string          `json:"id"`
	Line      Line            `json:"line"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Sales     int             `json:"sales"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MaxItemQuantity bounds the quantity of one product in a cart, after
// repeated lines for that product are merged.
const MaxItemQuantity = 100000

// CartItem is a requested (product, quantity) pair before pricing.
type CartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// LineItem is a cart item priced at reservation time. UnitPrice is
// never refreshed from the live catalog afterwards.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (li LineItem) Amount() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type Order struct {
	ID               string            `json:"id"`
	Line             Line              `json:"line"`
	Customer         Customer          `json:"customer"`
	CustomerRef      string            `json:"customer_ref,omitempty"`
	Items            []LineItem        `json:"items"`
	Subtotal         decimal.Decimal   `json:"subtotal"`
	Shipping         decimal.Decimal   `json:"shipping"`
	Total            decimal.Decimal   `json:"total"`
	Currency         string            `json:"currency"`
	PaymentStatus    PaymentStatus     `json:"payment_status"`
	Status           FulfillmentStatus `json:"status"`
	TxRef            string            `json:"transaction_reference,omitempty"`
	GatewaySessionID string            `json:"gateway_session_id,omitempty"`
	GatewayTxID      string            `json:"gateway_transaction_id,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func Subtotal(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Amount())
	}
	return sum
}

// MergeQuantities sums quantities per product id. Non-positive
// quantities and sums above MaxItemQuantity are Validation errors.
func MergeQuantities(items []CartItem) (map[string]int, error) {
	need := make(map[string]int, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, Validation(fmt.Sprintf("product %s: quantity must be positive", it.ProductID))
		}
		if it.Quantity > MaxItemQuantity-need[it.ProductID] {
			return nil, Validation(fmt.Sprintf("product %s: quantity exceeds %d", it.ProductID, MaxItemQuantity))
		}
		need[it.ProductID] += it.Quantity
	}
	return need, nil
}

// CheckTotals reports an error unless Subtotal and Total agree with the
// line items and shipping surcharge.
func (o Order) CheckTotals() error {
	sub := Subtotal(o.Items)
	if !o.Subtotal.Equal(sub) {
		return fmt.Errorf("order %s: subtotal %s != items sum %s", o.ID, o.Subtotal, sub)
	}
	if want := sub.Add(o.Shipping); !o.Total.Equal(want) {
		return fmt.Errorf("order %s: total %s != %s", o.ID, o.Total, want)
	}
	return nil
}
