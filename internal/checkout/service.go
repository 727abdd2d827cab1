package checkout

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/bgunisex/salon-commerce/internal/inventory"
	"github.com/bgunisex/salon-commerce/internal/logging"
	"github.com/bgunisex/salon-commerce/internal/orders"
	"github.com/bgunisex/salon-commerce/internal/payment"
)

var tracer = otel.Tracer("github.com/bgunisex/salon-commerce/internal/checkout")

// Step is the position of an order attempt in the checkout flow.
type Step string

const (
	StepValidating Step = "Validating"
	StepReserving  Step = "Reserving"
	StepPayingInit Step = "PayingInit"
	StepPersisted  Step = "Persisted"
	StepRejected   Step = "Rejected"
)

const (
	rollbackAttempts = 3
	orderIDAttempts  = 3
)

type PaymentInitiator interface {
	Initiate(ctx context.Context, line orders.Line, amount decimal.Decimal, c orders.Customer, meta map[string]string) (payment.Session, error)
}

type Request struct {
	Line        orders.Line
	Customer    orders.Customer
	CustomerRef string
	Items       []orders.CartItem
	Shipping    decimal.Decimal
}

type Result struct {
	Order       orders.Order `json:"order"`
	RedirectURL string       `json:"redirect_url"`
}

// Service runs one order attempt end to end: reserve stock, open a
// payment session, store the order as Pending. A failure after the
// reservation releases it before returning.
type Service struct {
	Reserver *inventory.Reserver
	Payments PaymentInitiator
	Orders   orders.OrderStore
	Notifier orders.Notifier
	Events   orders.EventPublisher
	Log      *zap.Logger
	Currency string

	RollbackTimeout time.Duration
	RollbackBackoff time.Duration
	Now             func() time.Time
}

func (s *Service) logger() *zap.Logger { return logging.OrNop(s.Log) }

type attempt struct {
	step Step
	line orders.Line
	log  *zap.Logger
}

func (a *attempt) advance(s Step) {
	a.step = s
	a.log.Debug("checkout step", zap.String("step", string(s)))
}

func (s *Service) PlaceOrder(ctx context.Context, req Request) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "checkout.PlaceOrder")
	span.SetAttributes(attribute.String("order.line", string(req.Line)), attribute.Int("order.items", len(req.Items)))
	a := &attempt{step: StepValidating, line: req.Line, log: s.logger().With(zap.String("order_line", string(req.Line)))}
	defer func() {
		span.SetAttributes(attribute.String("checkout.step", string(a.step)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(orders.KindOf(err)))
			a.log.Info("order attempt rejected",
				zap.String("step", string(a.step)),
				zap.String("kind", string(orders.KindOf(err))),
				zap.Error(err))
			a.step = StepRejected
		}
		span.End()
	}()

	if err := validate(req); err != nil {
		return Result{}, err
	}

	a.advance(StepReserving)
	reservation, err := s.Reserver.Reserve(ctx, req.Line, req.Items)
	if err != nil {
		return Result{}, err
	}
	a.log = a.log.With(zap.String("attempt_id", reservation.AttemptID))

	a.advance(StepPayingInit)
	total := reservation.Subtotal.Add(req.Shipping)
	sess, err := s.Payments.Initiate(ctx, req.Line, total, req.Customer, map[string]string{
		"attempt_id": reservation.AttemptID,
		"line":       string(req.Line),
	})
	if err != nil {
		s.rollback(ctx, a, reservation, sess.Reference, err)
		if orders.KindOf(err) == orders.KindValidation {
			return Result{}, err
		}
		return Result{}, orders.PaymentInitFailed(err)
	}

	now := s.now()
	o := orders.Order{
		Line:             req.Line,
		Customer:         req.Customer,
		CustomerRef:      req.CustomerRef,
		Items:            reservation.Items,
		Subtotal:         reservation.Subtotal,
		Shipping:         req.Shipping,
		Total:            total,
		Currency:         s.Currency,
		PaymentStatus:    orders.PaymentPending,
		Status:           orders.StatusPending,
		TxRef:            sess.Reference,
		GatewaySessionID: sess.SessionID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.persist(ctx, &o); err != nil {
		a.log.Error("order not recorded after payment session was opened",
			zap.String("tx_ref", sess.Reference), zap.Error(err))
		s.rollback(ctx, a, reservation, sess.Reference, err)
		return Result{}, orders.Internal("order could not be recorded", err)
	}
	a.advance(StepPersisted)
	span.SetAttributes(attribute.String("order.id", o.ID), attribute.String("order.tx_ref", o.TxRef))

	if err := reservation.Confirm(ctx, o.ID); err != nil {
		a.log.Warn("reservation not confirmed", zap.String("order_id", o.ID), zap.Error(err))
	}

	s.announce(ctx, o, sess.RedirectURL)
	a.log.Info("order placed",
		zap.String("order_id", o.ID),
		zap.String("tx_ref", o.TxRef),
		zap.String("total", o.Total.String()))
	return Result{Order: o, RedirectURL: sess.RedirectURL}, nil
}

func validate(req Request) error {
	if _, err := orders.ParseLine(string(req.Line)); err != nil {
		return err
	}
	c := req.Customer
	switch {
	case strings.TrimSpace(c.Name) == "":
		return orders.Validation("customer name is required")
	case strings.TrimSpace(c.Email) == "":
		return orders.Validation("customer email is required")
	case strings.TrimSpace(c.Phone) == "":
		return orders.Validation("customer phone is required")
	case len(req.Items) == 0:
		return orders.Validation("order must contain at least one item")
	case req.Shipping.IsNegative():
		return orders.Validation("shipping must not be negative")
	}
	return nil
}

// persist stores o under a fresh id, drawing a new one when the store
// reports the id as already issued.
func (s *Service) persist(ctx context.Context, o *orders.Order) error {
	var err error
	for i := 0; i < orderIDAttempts; i++ {
		o.ID = orders.NewOrderID(s.now())
		err = s.Orders.Create(ctx, *o)
		if !errors.Is(err, orders.ErrDuplicateOrderID) {
			return err
		}
	}
	return err
}

// rollback releases the reservation on a context detached from the
// request. It never returns an error; a release that keeps failing is
// logged as an alert and the caller reports the original cause.
func (s *Service) rollback(ctx context.Context, a *attempt, r *inventory.Reservation, txRef string, cause error) {
	timeout := s.RollbackTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	backoff := s.RollbackBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	_, span := tracer.Start(rctx, "checkout.rollback")
	defer span.End()

	var err error
retry:
	for i := 1; ; i++ {
		var released bool
		released, err = r.Release(rctx)
		if err == nil {
			a.log.Info("reservation released", zap.Bool("restocked", released), zap.NamedError("cause", cause))
			return
		}
		if i == rollbackAttempts {
			break
		}
		select {
		case <-time.After(time.Duration(i) * backoff):
		case <-rctx.Done():
			err = errors.Join(err, rctx.Err())
			break retry
		}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "rollback failed")
	a.log.Error("stock rollback failed",
		zap.String("alert", "stock_rollback_failed"),
		zap.String("tx_ref", txRef),
		zap.NamedError("cause", cause),
		zap.Error(err))
}

func (s *Service) announce(ctx context.Context, o orders.Order, redirectURL string) {
	if s.Notifier != nil {
		s.Notifier.Notify(ctx, orders.Notification{
			Recipient: o.Customer.Email,
			Kind:      orders.NotifyOrderPlaced,
			Data: map[string]any{
				"order_id":     o.ID,
				"name":         o.Customer.Name,
				"total":        o.Total.String(),
				"currency":     o.Currency,
				"redirect_url": redirectURL,
			},
		})
	}
	if s.Events != nil {
		s.Events.PublishEvent(ctx, orders.EventOrderPlaced, o.ID, orders.OrderPlacedPayload{
			OrderID: o.ID, Line: o.Line, TxRef: o.TxRef, Items: o.Items, Total: o.Total,
		})
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
