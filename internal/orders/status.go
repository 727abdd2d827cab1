package orders

import (
	"fmt"
	"slices"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "Pending"
	PaymentPaid     PaymentStatus = "Paid"
	PaymentFailed   PaymentStatus = "Failed"
	PaymentRefunded PaymentStatus = "Refunded"
)

// Failed -> Paid covers a customer retrying on the same hosted session.
var paymentNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:  {PaymentPaid: true, PaymentFailed: true},
	PaymentFailed:   {PaymentPaid: true},
	PaymentPaid:     {PaymentRefunded: true},
	PaymentRefunded: {},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return paymentNext[from][to]
}

// PaymentSources lists the statuses allowed to move to `to`, sorted.
func PaymentSources(to PaymentStatus) []PaymentStatus {
	var out []PaymentStatus
	for from, next := range paymentNext {
		if next[to] {
			out = append(out, from)
		}
	}
	slices.Sort(out)
	return out
}

// FulfillmentStatus tracks handling of the parcel; it is independent of
// the payment state machine.
type FulfillmentStatus string

const (
	StatusPending    FulfillmentStatus = "Pending"
	StatusProcessing FulfillmentStatus = "Processing"
	StatusShipped    FulfillmentStatus = "Shipped"
	StatusDelivered  FulfillmentStatus = "Delivered"
	StatusCancelled  FulfillmentStatus = "Cancelled"
)

var validNext = map[FulfillmentStatus]map[FulfillmentStatus]bool{
	StatusPending:    {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

func ParseFulfillmentStatus(s string) (FulfillmentStatus, error) {
	st := FulfillmentStatus(s)
	if _, ok := validNext[st]; !ok {
		return "", Validation(fmt.Sprintf("invalid status value %q", s))
	}
	return st, nil
}

func CanTransition(from, to FulfillmentStatus) bool {
	return validNext[from][to]
}
