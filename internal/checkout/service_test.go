package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bgunisex/salon-commerce/internal/inventory"
	"github.com/bgunisex/salon-commerce/internal/memstore"
	"github.com/bgunisex/salon-commerce/internal/orders"
	"github.com/bgunisex/salon-commerce/internal/payment"
)

type fakePayments struct {
	fn    func(ctx context.Context) error
	calls int
}

func (f *fakePayments) Initiate(ctx context.Context, line orders.Line, amount decimal.Decimal, _ orders.Customer, _ map[string]string) (payment.Session, error) {
	f.calls++
	s := payment.Session{Reference: orders.NewTxRef(line)}
	if f.fn != nil {
		if err := f.fn(ctx); err != nil {
			return s, err
		}
	}
	s.SessionID = "sess-" + amount.String()
	s.RedirectURL = "https://pay.example/" + s.Reference
	return s, nil
}

// flakyCatalog fails every Release.
type flakyCatalog struct {
	*memstore.Catalog
	mu       sync.Mutex
	releases int
}

func (c *flakyCatalog) Release(context.Context, string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releases++
	return false, errors.New("catalog unreachable")
}

// scriptedStore returns the queued errors from Create before delegating.
type scriptedStore struct {
	*memstore.OrderStore
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scriptedStore) Create(ctx context.Context, o orders.Order) error {
	s.mu.Lock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return s.OrderStore.Create(ctx, o)
}

type recorder struct {
	mu     sync.Mutex
	notes  []orders.Notification
	events []string
}

func (r *recorder) Notify(_ context.Context, n orders.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) PublishEvent(_ context.Context, eventType, _ string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

type fixture struct {
	svc      *Service
	catalog  *memstore.Catalog
	store    *scriptedStore
	payments *fakePayments
	rec      *recorder
	logs     *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat := memstore.NewCatalog()
	cat.Put(orders.Product{ID: "P1", Line: orders.LinePoultry, Name: "Broiler", Price: decimal.NewFromInt(10), Stock: 5})
	core, logs := observer.New(zap.DebugLevel)
	log := zap.New(core)

	f := &fixture{
		catalog:  cat,
		store:    &scriptedStore{OrderStore: memstore.NewOrderStore()},
		payments: &fakePayments{},
		rec:      &recorder{},
		logs:     logs,
	}
	f.svc = &Service{
		Reserver:        &inventory.Reserver{Catalog: cat, Log: log},
		Payments:        f.payments,
		Orders:          f.store,
		Notifier:        f.rec,
		Events:          f.rec,
		Log:             log,
		Currency:        "NGN",
		RollbackTimeout: time.Second,
		RollbackBackoff: time.Millisecond,
	}
	return f
}

func request(qty int) Request {
	return Request{
		Line:     orders.LinePoultry,
		Customer: orders.Customer{Name: "Ada", Email: "ada@example.com", Phone: "08030000000"},
		Items:    []orders.CartItem{{ProductID: "P1", Quantity: qty}},
	}
}

func (f *fixture) stock(t *testing.T) int {
	t.Helper()
	p, err := f.catalog.Get(context.Background(), orders.LinePoultry, "P1")
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) orderCount(t *testing.T) int {
	t.Helper()
	list, err := f.store.List(context.Background(), orders.LinePoultry, 100)
	require.NoError(t, err)
	return len(list)
}

func TestPlaceOrderSucceeds(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.PlaceOrder(context.Background(), request(2))
	require.NoError(t, err)

	o := res.Order
	assert.True(t, o.Total.Equal(decimal.NewFromInt(20)), o.Total.String())
	assert.Equal(t, orders.PaymentPending, o.PaymentStatus)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Regexp(t, `^ORD-[0-9A-Z]{4}-\d{6}$`, o.ID)
	assert.Equal(t, "https://pay.example/"+o.TxRef, res.RedirectURL)
	assert.Equal(t, 3, f.stock(t))

	stored, err := f.store.GetByTxRef(context.Background(), o.TxRef)
	require.NoError(t, err)
	assert.Equal(t, o.ID, stored.ID)

	require.Len(t, f.rec.notes, 1)
	assert.Equal(t, orders.NotifyOrderPlaced, f.rec.notes[0].Kind)
	assert.Equal(t, "ada@example.com", f.rec.notes[0].Recipient)
	assert.Equal(t, []string{orders.EventOrderPlaced}, f.rec.events)
}

func TestPlaceOrderAddsShippingAfterSubtotal(t *testing.T) {
	f := newFixture(t)
	req := request(2)
	req.Shipping = decimal.NewFromInt(5000)

	res, err := f.svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Order.Subtotal.Equal(decimal.NewFromInt(20)))
	assert.True(t, res.Order.Total.Equal(decimal.NewFromInt(5020)))
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.PlaceOrder(context.Background(), request(10))
	require.ErrorIs(t, err, orders.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "Available: 5")
	assert.Equal(t, 0, f.payments.calls)
	assert.Equal(t, 0, f.orderCount(t))
	assert.Equal(t, 5, f.stock(t))
}

func TestPlaceOrderValidation(t *testing.T) {
	cases := map[string]func(*Request){
		"no email":      func(r *Request) { r.Customer.Email = " " },
		"no name":       func(r *Request) { r.Customer.Name = "" },
		"no phone":      func(r *Request) { r.Customer.Phone = "" },
		"empty cart":    func(r *Request) { r.Items = nil },
		"bad line":      func(r *Request) { r.Line = "fish" },
		"negative fee":  func(r *Request) { r.Shipping = decimal.NewFromInt(-1) },
		"zero quantity": func(r *Request) { r.Items[0].Quantity = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			req := request(1)
			mutate(&req)
			_, err := f.svc.PlaceOrder(context.Background(), req)
			assert.ErrorIs(t, err, orders.ErrValidation)
			assert.Equal(t, 0, f.payments.calls)
			assert.Equal(t, 5, f.stock(t))
		})
	}
}

func TestPlaceOrderGatewayFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.payments.fn = func(context.Context) error {
		return orders.GatewayUnavailable(errors.New("dial tcp: i/o timeout"))
	}

	_, err := f.svc.PlaceOrder(context.Background(), request(2))
	require.ErrorIs(t, err, orders.ErrPaymentInitFailed)
	assert.ErrorIs(t, err, orders.ErrGatewayUnavailable)
	assert.Contains(t, err.Error(), "Payment initialization failed")
	assert.Equal(t, orders.KindPaymentInitFailed, orders.KindOf(err))

	assert.Equal(t, 5, f.stock(t))
	assert.Equal(t, 0, f.orderCount(t))
	assert.Empty(t, f.rec.notes)
}

func TestPlaceOrderRollsBackAfterRequestCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.payments.fn = func(context.Context) error {
		cancel()
		return orders.GatewayUnavailable(context.Canceled)
	}

	_, err := f.svc.PlaceOrder(ctx, request(2))
	require.ErrorIs(t, err, orders.ErrPaymentInitFailed)
	assert.Equal(t, 5, f.stock(t))
}

func TestPlaceOrderRollbackFailureKeepsOriginalError(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyCatalog{Catalog: f.catalog}
	f.svc.Reserver.Catalog = flaky
	f.payments.fn = func(context.Context) error { return orders.GatewayRejected("invalid merchant") }

	_, err := f.svc.PlaceOrder(context.Background(), request(2))
	require.ErrorIs(t, err, orders.ErrPaymentInitFailed)
	assert.ErrorIs(t, err, orders.ErrGatewayRejected)

	assert.Equal(t, rollbackAttempts, flaky.releases)
	alerts := f.logs.FilterField(zap.String("alert", "stock_rollback_failed")).All()
	require.Len(t, alerts, 1)
	assert.Equal(t, zap.ErrorLevel, alerts[0].Level)
	assert.Equal(t, 3, f.stock(t))
}

func TestPlaceOrderPersistFailureReleasesStock(t *testing.T) {
	f := newFixture(t)
	f.store.errs = []error{errors.New("connection refused")}

	_, err := f.svc.PlaceOrder(context.Background(), request(2))
	require.Error(t, err)
	assert.Equal(t, orders.KindInternal, orders.KindOf(err))
	assert.Contains(t, err.Error(), "order could not be recorded")
	assert.Equal(t, 5, f.stock(t))
	assert.Equal(t, 0, f.orderCount(t))
	assert.Equal(t, 1, f.logs.FilterMessage("order not recorded after payment session was opened").Len())
}

func TestPlaceOrderRegeneratesDuplicateID(t *testing.T) {
	f := newFixture(t)
	f.store.errs = []error{orders.ErrDuplicateOrderID, orders.ErrDuplicateOrderID}

	res, err := f.svc.PlaceOrder(context.Background(), request(1))
	require.NoError(t, err)
	assert.Equal(t, 3, f.store.calls)
	assert.NotEmpty(t, res.Order.ID)
	assert.Equal(t, 4, f.stock(t))
}

func TestPlaceOrderGivesUpOnRepeatedDuplicateIDs(t *testing.T) {
	f := newFixture(t)
	f.store.errs = []error{orders.ErrDuplicateOrderID, orders.ErrDuplicateOrderID, orders.ErrDuplicateOrderID}

	_, err := f.svc.PlaceOrder(context.Background(), request(1))
	assert.Equal(t, orders.KindInternal, orders.KindOf(err))
	assert.Equal(t, 5, f.stock(t))
}

func TestConcurrentOrdersGetDistinctReferences(t *testing.T) {
	f := newFixture(t)
	f.catalog.Put(orders.Product{ID: "P1", Line: orders.LinePoultry, Name: "Broiler", Price: decimal.NewFromInt(10), Stock: 1000})
	f.svc.Payments = &payment.Initiator{
		Gateway:  stubGateway{},
		Currency: "NGN",
		Log:      zap.NewNop(),
	}

	var (
		mu   sync.Mutex
		refs = map[string]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.PlaceOrder(context.Background(), request(1))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			refs[res.Order.TxRef] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, refs, 50)
	assert.Equal(t, 950, f.stock(t))
}

type stubGateway struct{}

func (stubGateway) CreateSession(_ context.Context, req orders.SessionRequest) (orders.PaymentSession, error) {
	return orders.PaymentSession{SessionID: req.Reference, RedirectURL: "https://pay/" + req.Reference}, nil
}

func (stubGateway) Verify(context.Context, string) (orders.Verification, error) {
	return orders.Verification{}, nil
}

func TestPlaceOrderWithoutLogger(t *testing.T) {
	f := newFixture(t)
	f.svc.Log = nil
	f.svc.Reserver = &inventory.Reserver{Catalog: f.catalog}

	_, err := f.svc.PlaceOrder(context.Background(), request(1))
	require.NoError(t, err)

	f.payments.fn = func(context.Context) error {
		return orders.GatewayUnavailable(errors.New("dial tcp: i/o timeout"))
	}
	_, err = f.svc.PlaceOrder(context.Background(), request(1))
	require.ErrorIs(t, err, orders.ErrPaymentInitFailed)
	assert.Equal(t, 4, f.stock(t))
}
