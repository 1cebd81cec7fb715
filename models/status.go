package models

// OrderStatus is the fulfillment lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// PaymentStatus tracks the payment outcome orthogonally to OrderStatus.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// orderTransitions is the authoritative transition table. Anything not listed
// here is illegal and must be rejected, not silently applied.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

// CanTransitionTo reports whether moving from s to next is a legal transition.
// A self-transition is allowed so that redelivered events resolve as no-ops.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// IsFulfilled reports whether the order has entered the fulfillment stage.
// Payment events must never move an order backward out of these states.
func (s OrderStatus) IsFulfilled() bool {
	return s == OrderStatusShipped || s == OrderStatusDelivered
}
