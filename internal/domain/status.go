package domain

import "slices"

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusProcessing:      {OrderStatusShipped, OrderStatusCancelled, OrderStatusReturnRequested},
	OrderStatusShipped:         {OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturnRequested},
	OrderStatusDelivered:       {OrderStatusReturnRequested},
	OrderStatusReturnRequested: {OrderStatusReturned},
}

var returnTransitions = map[ReturnStatus][]ReturnStatus{
	ReturnStatusRequested:  {ReturnStatusApproved, ReturnStatusRejected},
	ReturnStatusApproved:   {ReturnStatusInProgress, ReturnStatusRejected},
	ReturnStatusInProgress: {ReturnStatusCompleted},
}

// CanTransitionOrder reports whether the order graph has an edge from -> to.
func CanTransitionOrder(from, to OrderStatus) bool {
	return slices.Contains(orderTransitions[from], to)
}

// CanTransitionReturn reports whether the return graph has an edge from -> to.
func CanTransitionReturn(from, to ReturnStatus) bool {
	return slices.Contains(returnTransitions[from], to)
}

// Returnable reports whether a return may be requested for an order in this status.
func (s OrderStatus) Returnable() bool {
	return CanTransitionOrder(s, OrderStatusReturnRequested)
}

// Terminal reports whether no transition leaves the status.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered,
		OrderStatusCancelled, OrderStatusReturnRequested, OrderStatusReturned:
		return true
	}
	return false
}

// Valid reports whether s is a known return status.
func (s ReturnStatus) Valid() bool {
	switch s {
	case ReturnStatusRequested, ReturnStatusApproved, ReturnStatusInProgress,
		ReturnStatusCompleted, ReturnStatusRejected:
		return true
	}
	return false
}

// Valid reports whether s is a known fulfillment status.
func (s FulfillmentStatus) Valid() bool {
	switch s {
	case FulfillmentUnfulfilled, FulfillmentPicking, FulfillmentPacked,
		FulfillmentShipped, FulfillmentDelivered:
		return true
	}
	return false
}
