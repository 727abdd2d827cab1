package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bgunisex/salon-commerce/internal/logging"
	"github.com/bgunisex/salon-commerce/internal/orders"
)

// Sweeper re-verifies orders that have stayed Pending longer than
// StaleAfter, for payments whose callback never arrived.
type Sweeper struct {
	Handler    *Handler
	Orders     orders.OrderStore
	Interval   time.Duration
	StaleAfter time.Duration
	Batch      int
	Log        *zap.Logger
	Now        func() time.Time
}

func (s *Sweeper) logger() *zap.Logger { return logging.OrNop(s.Log) }

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger().Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce reconciles one batch and returns how many orders left Pending.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	batch := s.Batch
	if batch <= 0 {
		batch = 100
	}
	stale, err := s.Orders.ListPendingBefore(ctx, now.Add(-s.StaleAfter), batch)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, o := range stale {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		got, err := s.Handler.Verify(ctx, o.TxRef)
		switch {
		case err == nil && got.PaymentStatus != orders.PaymentPending:
			settled++
		case orders.KindOf(err) == orders.KindGatewayVerificationFailed:
			settled++
		case err != nil:
			s.logger().Warn("stale order not reconciled",
				zap.String("order_id", o.ID), zap.String("tx_ref", o.TxRef), zap.Error(err))
		}
	}
	if len(stale) > 0 {
		s.logger().Info("sweep done", zap.Int("stale", len(stale)), zap.Int("settled", settled))
	}
	return settled, nil
}
