package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bgunisex/salon-commerce/internal/orders"
)

// SessionResolver looks up bearer tokens the identity provider stored
// in Redis.
type SessionResolver struct {
	RDB *redis.Client
}

func (r *SessionResolver) Resolve(ctx context.Context, token string) (orders.Principal, error) {
	if token == "" {
		return orders.Principal{}, orders.ErrUnauthorized
	}
	raw, err := r.RDB.Get(ctx, fmt.Sprintf(KeySession, token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return orders.Principal{}, orders.ErrUnauthorized
	}
	if err != nil {
		return orders.Principal{}, fmt.Errorf("session lookup: %w", err)
	}
	var p orders.Principal
	if err := json.Unmarshal(raw, &p); err != nil || p.CustomerID == "" {
		return orders.Principal{}, orders.ErrUnauthorized
	}
	return p, nil
}
