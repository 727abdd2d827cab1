// Package memstore keeps catalogs and orders in process memory with the
// same atomicity guarantees as the Postgres stores. It backs tests and
// STORE=memory local runs.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bgunisex/salon-commerce/internal/orders"
)

const (
	reserved  = "RESERVED"
	released  = "RELEASED"
	confirmed = "CONFIRMED"
)

type productKey struct {
	line orders.Line
	id   string
}

type reservation struct {
	line    orders.Line
	items   []orders.CartItem
	state   string
	orderID string
}

// Catalog is safe for concurrent use; one mutex serializes every
// check-and-debit so a cart is validated and debited as a unit.
type Catalog struct {
	mu           sync.Mutex
	products     map[productKey]*orders.Product
	reservations map[string]*reservation
	now          func() time.Time
}

func NewCatalog() *Catalog {
	return &Catalog{
		products:     map[productKey]*orders.Product{},
		reservations: map[string]*reservation{},
		now:          time.Now,
	}
}

// Put inserts or replaces a product.
func (c *Catalog) Put(p orders.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	c.products[productKey{p.Line, p.ID}] = &p
}

func (c *Catalog) Get(_ context.Context, line orders.Line, id string) (orders.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[productKey{line, id}]
	if !ok {
		return orders.Product{}, orders.ProductNotFound(id)
	}
	return *p, nil
}

func (c *Catalog) List(_ context.Context, line orders.Line) ([]orders.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]orders.Product, 0, len(c.products))
	for k, p := range c.products {
		if k.line == line {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *Catalog) Reserve(_ context.Context, line orders.Line, attemptID string, items []orders.CartItem) ([]orders.LineItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.reservations[attemptID]; dup {
		return nil, orders.Conflict("reservation " + attemptID + " already exists")
	}

	// validate the whole cart before touching any counter
	need, err := orders.MergeQuantities(items)
	if err != nil {
		return nil, err
	}
	priced := make([]orders.LineItem, 0, len(items))
	for _, it := range items {
		p, ok := c.products[productKey{line, it.ProductID}]
		if !ok {
			return nil, orders.ProductNotFound(it.ProductID)
		}
		if need[it.ProductID] > p.Stock {
			return nil, orders.InsufficientStock(p.ID, p.Name, p.Stock)
		}
		priced = append(priced, orders.LineItem{
			ProductID: p.ID, Name: p.Name, Quantity: it.Quantity, UnitPrice: p.Price,
		})
	}

	now := c.now().UTC()
	for id, qty := range need {
		p := c.products[productKey{line, id}]
		p.Stock -= qty
		p.Sales += qty
		p.UpdatedAt = now
	}
	c.reservations[attemptID] = &reservation{
		line:  line,
		items: append([]orders.CartItem(nil), items...),
		state: reserved,
	}
	return priced, nil
}

func (c *Catalog) Release(_ context.Context, attemptID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.reservations[attemptID]
	if !ok || r.state != reserved {
		return false, nil
	}
	now := c.now().UTC()
	for _, it := range r.items {
		if p, ok := c.products[productKey{r.line, it.ProductID}]; ok {
			p.Stock += it.Quantity
			p.Sales -= it.Quantity
			p.UpdatedAt = now
		}
	}
	r.state = released
	return true, nil
}

func (c *Catalog) Confirm(_ context.Context, attemptID, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.reservations[attemptID]
	if !ok {
		return orders.Internal("reservation "+attemptID+" not found", nil)
	}
	switch r.state {
	case confirmed:
		return nil
	case released:
		return orders.Conflict("reservation " + attemptID + " already released")
	}
	r.state = confirmed
	r.orderID = orderID
	return nil
}
