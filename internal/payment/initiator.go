package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bgunisex/salon-commerce/internal/logging"
	"github.com/bgunisex/salon-commerce/internal/orders"
)

// Initiator opens hosted payment sessions. The transaction reference is
// minted locally before the gateway is contacted, so a lost response
// still leaves something to reconcile against.
type Initiator struct {
	Gateway     orders.Gateway
	Timeout     time.Duration
	Currency    string
	RedirectURL string
	Log         *zap.Logger
}

func (in *Initiator) logger() *zap.Logger { return logging.OrNop(in.Log) }

// Session is an opened payment session and the reference it was opened on.
type Session struct {
	Reference string
	orders.PaymentSession
}

// Initiate returns GatewayUnavailable for network failures, 5xx and
// timeouts, GatewayRejected when the gateway refuses. Reference is set
// on the returned Session even when err is non-nil.
func (in *Initiator) Initiate(ctx context.Context, line orders.Line, amount decimal.Decimal, c orders.Customer, meta map[string]string) (Session, error) {
	s := Session{Reference: orders.NewTxRef(line)}
	if !amount.IsPositive() {
		return s, orders.Validation("payment amount must be positive")
	}

	callCtx := ctx
	if in.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, in.Timeout)
		defer cancel()
	}

	start := time.Now()
	ps, err := in.Gateway.CreateSession(callCtx, orders.SessionRequest{
		Reference:   s.Reference,
		Amount:      amount,
		Currency:    in.Currency,
		Customer:    c,
		RedirectURL: in.RedirectURL,
		Meta:        meta,
	})
	if err != nil {
		err = classify(callCtx, err)
		in.logger().Warn("payment session failed",
			zap.String("tx_ref", s.Reference),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return s, err
	}
	if ps.RedirectURL == "" {
		return s, orders.GatewayRejected("no redirect url in session")
	}
	s.PaymentSession = ps
	in.logger().Info("payment session created",
		zap.String("tx_ref", s.Reference),
		zap.String("session_id", ps.SessionID),
		zap.Duration("elapsed", time.Since(start)))
	return s, nil
}

// classify maps anything that is not already a gateway verdict to
// GatewayUnavailable. A timed out call is never a rejection.
func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return orders.GatewayUnavailable(err)
	}
	switch orders.KindOf(err) {
	case orders.KindGatewayRejected, orders.KindGatewayUnavailable:
		return err
	}
	return orders.GatewayUnavailable(err)
}
