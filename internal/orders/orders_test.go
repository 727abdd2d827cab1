package orders

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	l, err := ParseLine(" Hair ")
	require.NoError(t, err)
	assert.Equal(t, LineHair, l)
	assert.Equal(t, "HAIR", l.RefTag())

	_, err = ParseLine("fish")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCheckTotals(t *testing.T) {
	items := []LineItem{
		{ProductID: "p1", Quantity: 2, UnitPrice: decimal.NewFromInt(10)},
		{ProductID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("2.50")},
	}
	o := Order{ID: "o", Items: items, Subtotal: decimal.RequireFromString("22.5"),
		Shipping: decimal.NewFromInt(5), Total: decimal.RequireFromString("27.50")}
	assert.NoError(t, o.CheckTotals())

	o.Total = decimal.NewFromInt(30)
	assert.Error(t, o.CheckTotals())
}

func TestPaymentTransitions(t *testing.T) {
	tests := []struct {
		from, to PaymentStatus
		ok       bool
	}{
		{PaymentPending, PaymentPaid, true},
		{PaymentPending, PaymentFailed, true},
		{PaymentFailed, PaymentPaid, true},
		{PaymentPaid, PaymentFailed, false},
		{PaymentPaid, PaymentPending, false},
		{PaymentRefunded, PaymentPaid, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransitionPayment(tt.from, tt.to))
		})
	}
}

func TestPaymentSources(t *testing.T) {
	assert.Equal(t, []PaymentStatus{PaymentFailed, PaymentPending}, PaymentSources(PaymentPaid))
	assert.Equal(t, []PaymentStatus{PaymentPending}, PaymentSources(PaymentFailed))
	assert.Empty(t, PaymentSources(PaymentPending))
}

func TestFulfillmentStatus(t *testing.T) {
	_, err := ParseFulfillmentStatus("Lost")
	assert.ErrorIs(t, err, ErrValidation)

	s, err := ParseFulfillmentStatus("Shipped")
	require.NoError(t, err)
	assert.True(t, CanTransition(StatusProcessing, s))
	assert.False(t, CanTransition(StatusPending, s))
	assert.False(t, CanTransition(StatusDelivered, StatusCancelled))
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("reserve: %w", InsufficientStock("p1", "Wig", 5))
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NotErrorIs(t, err, ErrProductNotFound)
	assert.Equal(t, KindInsufficientStock, KindOf(err))
	assert.Contains(t, err.Error(), "Available: 5")

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 5, e.Available)
	assert.Equal(t, "p1", e.ProductID)

	initErr := PaymentInitFailed(GatewayUnavailable(errors.New("timeout")))
	assert.ErrorIs(t, initErr, ErrPaymentInitFailed)
	assert.ErrorIs(t, initErr, ErrGatewayUnavailable)
	assert.Equal(t, KindPaymentInitFailed, KindOf(initErr))

	assert.ErrorIs(t, OrderNotFound("x"), ErrOrderNotFound)
	assert.NotErrorIs(t, OrderNotFound("x"), ErrProductNotFound)
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestNewOrderIDFormat(t *testing.T) {
	id := NewOrderID(time.UnixMilli(1700000567890))
	assert.Regexp(t, regexp.MustCompile(`^ORD-[0-9A-Z]{4}-567890$`), id)
}

func TestTxRefUniqueUnderConcurrency(t *testing.T) {
	const n = 500
	refs := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			refs <- NewTxRef(LinePoultry)
		}()
	}
	wg.Wait()
	close(refs)

	seen := map[string]bool{}
	for r := range refs {
		assert.Regexp(t, `^POULTRY-TX-`, r)
		assert.False(t, seen[r], "duplicate reference %s", r)
		seen[r] = true
	}
	assert.Len(t, seen, n)
}
