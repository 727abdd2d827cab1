package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/bgunisex/salon-commerce/internal/orders"
)

type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]*orders.Order
	byRef  map[string]string
	issued map[string]bool // every id ever created, deleted ones included
	now    func() time.Time
}

func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders: map[string]*orders.Order{},
		byRef:  map[string]string{},
		issued: map[string]bool{},
		now:    time.Now,
	}
}

func clone(o *orders.Order) orders.Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	return c
}

func (s *OrderStore) Create(_ context.Context, o orders.Order) error {
	if err := o.CheckTotals(); err != nil {
		return orders.Internal("refusing inconsistent order", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.issued[o.ID] {
		return orders.ErrDuplicateOrderID
	}
	if o.TxRef != "" {
		if _, ok := s.byRef[o.TxRef]; ok {
			return orders.Conflict("transaction reference " + o.TxRef + " already used")
		}
	}
	now := s.now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	c := clone(&o)
	s.orders[o.ID] = &c
	s.issued[o.ID] = true
	if o.TxRef != "" {
		s.byRef[o.TxRef] = o.ID
	}
	return nil
}

func (s *OrderStore) Get(_ context.Context, line orders.Line, id string) (orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok || o.Line != line {
		return orders.Order{}, orders.OrderNotFound(id)
	}
	return clone(o), nil
}

func (s *OrderStore) GetByTxRef(_ context.Context, txRef string) (orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRef[txRef]
	if !ok {
		return orders.Order{}, orders.OrderNotFound(txRef)
	}
	return clone(s.orders[id]), nil
}

func (s *OrderStore) List(_ context.Context, line orders.Line, limit int) ([]orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []orders.Order
	for _, o := range s.orders {
		if o.Line == line {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *OrderStore) ListPendingBefore(_ context.Context, before time.Time, limit int) ([]orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []orders.Order
	for _, o := range s.orders {
		if o.PaymentStatus == orders.PaymentPending && o.TxRef != "" && o.CreatedAt.Before(before) {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *OrderStore) TransitionPayment(_ context.Context, txRef string, from []orders.PaymentStatus, to orders.PaymentStatus, gatewayTxID string) (orders.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRef[txRef]
	if !ok {
		return orders.Order{}, false, orders.OrderNotFound(txRef)
	}
	o := s.orders[id]
	if !slices.Contains(from, o.PaymentStatus) {
		return clone(o), false, nil
	}
	o.PaymentStatus = to
	if gatewayTxID != "" {
		o.GatewayTxID = gatewayTxID
	}
	o.UpdatedAt = s.now().UTC()
	return clone(o), true, nil
}

func (s *OrderStore) UpdateStatus(_ context.Context, line orders.Line, id string, from, to orders.FulfillmentStatus) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Line != line {
		return orders.Order{}, orders.OrderNotFound(id)
	}
	if o.Status != from {
		return orders.Order{}, orders.Conflict("order " + id + " status changed concurrently")
	}
	o.Status = to
	o.UpdatedAt = s.now().UTC()
	return clone(o), nil
}

func (s *OrderStore) Delete(_ context.Context, line orders.Line, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Line != line {
		return orders.OrderNotFound(id)
	}
	delete(s.byRef, o.TxRef)
	delete(s.orders, id)
	return nil
}
