package redisx

import "time"

const (
	// Idempotent order creation: idem:order:create:{line}:{key} -> "pending" | {"order_id","redirect_url"}
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Order read cache: order:{line}:{order_id} -> order JSON
	KeyOrderCache = "order:%s:%s"
	// Bumped on every invalidation; a cache fill started under an older
	// generation is discarded: order:gen:{line}:{order_id}
	KeyOrderGen = "order:gen:%s:%s"

	// Dedup of forwarded webhooks: dedup:{consumer}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Sessions written by the identity provider: session:{token} -> principal JSON
	KeySession = "session:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
	TTLOrderGen    = 30 * time.Minute
	TTLDedup       = 48 * time.Hour
)
