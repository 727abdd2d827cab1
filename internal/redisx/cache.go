package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bgunisex/salon-commerce/internal/logging"
	"github.com/bgunisex/salon-commerce/internal/orders"
)

// CachedOrders is an OrderStore that serves Get from Redis and drops the
// cached copy whenever the order changes. Each invalidation bumps a
// per-order generation so a slower concurrent Get cannot re-cache the
// copy it read before the change. Cache errors are logged and
// fall through to the store.
type CachedOrders struct {
	orders.OrderStore
	RDB *redis.Client
	TTL time.Duration
	Log *zap.Logger
}

func (c *CachedOrders) logger() *zap.Logger { return logging.OrNop(c.Log) }

func cacheKey(line orders.Line, id string) string {
	return fmt.Sprintf(KeyOrderCache, line, id)
}

func genKey(line orders.Line, id string) string {
	return fmt.Sprintf(KeyOrderGen, line, id)
}

// Get serves from the cache or fills it from the store. The fill only
// lands when no invalidation ran since the store read began.
func (c *CachedOrders) Get(ctx context.Context, line orders.Line, id string) (orders.Order, error) {
	raw, err := c.RDB.Get(ctx, cacheKey(line, id)).Bytes()
	if err == nil {
		var o orders.Order
		if jerr := json.Unmarshal(raw, &o); jerr == nil {
			return o, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger().Warn("order cache read failed", zap.String("order_id", id), zap.Error(err))
	}

	gen, genErr := c.generation(ctx, line, id)
	o, err := c.OrderStore.Get(ctx, line, id)
	if err != nil {
		return orders.Order{}, err
	}
	if genErr == nil {
		c.put(ctx, o, gen)
	}
	return o, nil
}

func (c *CachedOrders) TransitionPayment(ctx context.Context, txRef string, from []orders.PaymentStatus, to orders.PaymentStatus, gatewayTxID string) (orders.Order, bool, error) {
	o, changed, err := c.OrderStore.TransitionPayment(ctx, txRef, from, to, gatewayTxID)
	if err == nil && changed {
		c.invalidate(ctx, o.Line, o.ID)
	}
	return o, changed, err
}

func (c *CachedOrders) UpdateStatus(ctx context.Context, line orders.Line, id string, from, to orders.FulfillmentStatus) (orders.Order, error) {
	o, err := c.OrderStore.UpdateStatus(ctx, line, id, from, to)
	c.invalidate(ctx, line, id)
	return o, err
}

func (c *CachedOrders) Delete(ctx context.Context, line orders.Line, id string) error {
	err := c.OrderStore.Delete(ctx, line, id)
	c.invalidate(ctx, line, id)
	return err
}

func (c *CachedOrders) generation(ctx context.Context, line orders.Line, id string) (int64, error) {
	gen, err := c.RDB.Get(ctx, genKey(line, id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// put writes o only if the generation is still gen. WATCH aborts the
// write when an invalidation lands between the check and the SET.
func (c *CachedOrders) put(ctx context.Context, o orders.Order, gen int64) {
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = TTLOrderCache
	}
	gk := genKey(o.Line, o.ID)
	err = c.RDB.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, gk).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, cacheKey(o.Line, o.ID), b, ttl)
			return nil
		})
		return err
	}, gk)
	switch {
	case err == nil, errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
	default:
		c.logger().Warn("order cache write failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

var errStaleFill = errors.New("order changed during cache fill")

func (c *CachedOrders) invalidate(ctx context.Context, line orders.Line, id string) {
	gk := genKey(line, id)
	_, err := c.RDB.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, gk)
		p.Expire(ctx, gk, TTLOrderGen)
		p.Del(ctx, cacheKey(line, id))
		return nil
	})
	if err != nil {
		c.logger().Warn("order cache invalidation failed", zap.String("order_id", id), zap.Error(err))
	}
}
