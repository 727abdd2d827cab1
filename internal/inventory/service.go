package inventory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bgunisex/salon-commerce/internal/logging"
	"github.com/bgunisex/salon-commerce/internal/orders"
)

// Reserver is the reservation step of order creation. It validates a
// cart and debits the line's catalog in one all-or-nothing call.
type Reserver struct {
	Catalog orders.Catalog
	Log     *zap.Logger
}

func (r *Reserver) logger() *zap.Logger { return logging.OrNop(r.Log) }

// Reservation is stock held for one order attempt. Release and Confirm
// may be called from several goroutines; only the first successful
// Release credits stock back.
type Reservation struct {
	AttemptID string
	Line      orders.Line
	Items     []orders.LineItem
	Subtotal  decimal.Decimal

	catalog orders.Catalog
	mu      sync.Mutex
	settled bool
}

// Reserve rejects empty carts and quantities outside
// (0, orders.MaxItemQuantity] before any store call. Repeated product ids are merged, keeping first-seen order.
func (r *Reserver) Reserve(ctx context.Context, line orders.Line, cart []orders.CartItem) (*Reservation, error) {
	items, err := normalize(cart)
	if err != nil {
		return nil, err
	}

	attemptID := orders.NewAttemptID()
	priced, err := r.Catalog.Reserve(ctx, line, attemptID, items)
	if err != nil {
		return nil, err
	}

	res := &Reservation{
		AttemptID: attemptID,
		Line:      line,
		Items:     priced,
		Subtotal:  orders.Subtotal(priced),
		catalog:   r.Catalog,
	}
	r.logger().Debug("stock reserved",
		zap.String("attempt_id", attemptID),
		zap.String("order_line", string(line)),
		zap.Int("items", len(priced)),
		zap.String("subtotal", res.Subtotal.String()))
	return res, nil
}

func normalize(cart []orders.CartItem) ([]orders.CartItem, error) {
	if len(cart) == 0 {
		return nil, orders.Validation("cart is empty")
	}
	idx := make(map[string]int, len(cart))
	out := make([]orders.CartItem, 0, len(cart))
	for i, it := range cart {
		id := strings.TrimSpace(it.ProductID)
		if id == "" {
			return nil, orders.Validation(fmt.Sprintf("item %d: product id is required", i))
		}
		if it.Quantity <= 0 {
			return nil, orders.Validation(fmt.Sprintf("item %d: quantity must be positive", i))
		}
		if it.Quantity > orders.MaxItemQuantity {
			return nil, orders.Validation(fmt.Sprintf("item %d: quantity exceeds %d", i, orders.MaxItemQuantity))
		}
		if j, ok := idx[id]; ok {
			if out[j].Quantity > orders.MaxItemQuantity-it.Quantity {
				return nil, orders.Validation(fmt.Sprintf("product %s: quantity exceeds %d", id, orders.MaxItemQuantity))
			}
			out[j].Quantity += it.Quantity
			continue
		}
		idx[id] = len(out)
		out = append(out, orders.CartItem{ProductID: id, Quantity: it.Quantity})
	}
	return out, nil
}

// Release restores the reserved stock. It reports whether this call did
// the restoring; a failed call leaves the reservation releasable.
func (res *Reservation) Release(ctx context.Context) (bool, error) {
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.settled {
		return false, nil
	}
	released, err := res.catalog.Release(ctx, res.AttemptID)
	if err != nil {
		return false, err
	}
	res.settled = true
	return released, nil
}

// Confirm makes the debit final once the order is stored.
func (res *Reservation) Confirm(ctx context.Context, orderID string) error {
	res.mu.Lock()
	defer res.mu.Unlock()
	if err := res.catalog.Confirm(ctx, res.AttemptID, orderID); err != nil {
		return err
	}
	res.settled = true
	return nil
}
