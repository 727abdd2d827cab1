package orders

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewOrderID returns a human readable id such as ORD-A1B2-567890.
// Uniqueness is enforced by the order store; callers regenerate on
// ErrDuplicateOrderID.
func NewOrderID(now time.Time) string {
	u := uuid.New()
	var b [4]byte
	for i := range b {
		b[i] = idAlphabet[int(u[i])%len(idAlphabet)]
	}
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ms) > 6 {
		ms = ms[len(ms)-6:]
	}
	return "ORD-" + string(b[:]) + "-" + ms
}

// NewTxRef returns a globally unique gateway transaction reference
// tagged with the product line, e.g. HAIR-TX-<uuid>.
func NewTxRef(line Line) string {
	return line.RefTag() + "-TX-" + uuid.NewString()
}

// NewAttemptID identifies one order-creation attempt and its reservation.
func NewAttemptID() string { return uuid.NewString() }
