package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bgunisex/salon-commerce/internal/orders"
)

const inFlight = "pending"

// IdempotencyStore remembers which order an Idempotency-Key produced.
type IdempotencyStore struct {
	RDB *redis.Client
}

func idemKey(line orders.Line, key string) string {
	return fmt.Sprintf(KeyIdemOrderCreate, line, key)
}

// Begin claims key for a new attempt. A non-empty OrderID means the key
// already produced that order. A key whose attempt is still running
// yields Conflict.
func (s *IdempotencyStore) Begin(ctx context.Context, line orders.Line, key string) (orders.IdempotentResult, error) {
	k := idemKey(line, key)
	ok, err := s.RDB.SetNX(ctx, k, inFlight, TTLIdempotency).Result()
	if err != nil {
		return orders.IdempotentResult{}, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return orders.IdempotentResult{}, nil
	}
	v, err := s.RDB.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) || v == inFlight {
		return orders.IdempotentResult{}, orders.Conflict("a request with this Idempotency-Key is still in progress")
	}
	if err != nil {
		return orders.IdempotentResult{}, fmt.Errorf("read idempotency key: %w", err)
	}
	var res orders.IdempotentResult
	if err := json.Unmarshal([]byte(v), &res); err != nil || res.OrderID == "" {
		return orders.IdempotentResult{}, fmt.Errorf("idempotency key %s holds an unreadable value", key)
	}
	return res, nil
}

// Complete binds key to the order it produced and its payment link.
func (s *IdempotencyStore) Complete(ctx context.Context, line orders.Line, key string, res orders.IdempotentResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return s.RDB.Set(ctx, idemKey(line, key), b, TTLIdempotency).Err()
}

// Abandon frees key after a failed attempt so the client may retry.
func (s *IdempotencyStore) Abandon(ctx context.Context, line orders.Line, key string) error {
	return s.RDB.Del(ctx, idemKey(line, key)).Err()
}
