package services

import (
	"slices"
	"time"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
)

type transitionTable map[domain.OrderStatus][]domain.OrderStatus

var deliveryTransitions = transitionTable{
	domain.OrderStatusPending:    {domain.OrderStatusAccepted, domain.OrderStatusCancelled},
	domain.OrderStatusAccepted:   {domain.OrderStatusPreparing, domain.OrderStatusCancelled},
	domain.OrderStatusPreparing:  {domain.OrderStatusReady, domain.OrderStatusCancelled},
	domain.OrderStatusReady:      {domain.OrderStatusDispatched, domain.OrderStatusCancelled},
	domain.OrderStatusDispatched: {domain.OrderStatusArrived, domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusArrived:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
}

// Counter (PDV) orders are handed over at the register and may be delivered from any working state.
var counterTransitions = transitionTable{
	domain.OrderStatusPending:   {domain.OrderStatusAccepted, domain.OrderStatusCancelled},
	domain.OrderStatusAccepted:  {domain.OrderStatusPreparing, domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusPreparing: {domain.OrderStatusReady, domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusReady:     {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
}

func transitionTableFor(category domain.OrderCategory) (transitionTable, bool) {
	switch category {
	case domain.OrderCategoryDelivery:
		return deliveryTransitions, true
	case domain.OrderCategoryCounter:
		return counterTransitions, true
	default:
		return nil, false
	}
}

// AllowedTransitions returns the statuses reachable from current, in lifecycle order. Terminal
// statuses and unknown categories yield an empty slice.
func AllowedTransitions(category domain.OrderCategory, current domain.OrderStatus) []domain.OrderStatus {
	table, ok := transitionTableFor(category)
	if !ok {
		return nil
	}
	return slices.Clone(table[current])
}

// IsTransitionAllowed reports whether requested is directly reachable from current.
func IsTransitionAllowed(current, requested domain.OrderStatus, category domain.OrderCategory) bool {
	table, ok := transitionTableFor(category)
	if !ok {
		return false
	}
	return slices.Contains(table[current], requested)
}

func checkTransition(order domain.Order, requested domain.OrderStatus) error {
	if IsTransitionAllowed(order.Status, requested, order.Category) {
		return nil
	}
	return &TransitionError{
		Category:  order.Category,
		Current:   order.Status,
		Requested: requested,
		Allowed:   AllowedTransitions(order.Category, order.Status),
	}
}

type timestampField int

const (
	timestampNone timestampField = iota
	timestampAccepted
	timestampPreparing
	timestampReady
	timestampDispatched
	timestampArrived
	timestampDelivered
	timestampCancelled
)

func timestampFieldFor(status domain.OrderStatus) timestampField {
	switch status {
	case domain.OrderStatusPending:
		return timestampNone
	case domain.OrderStatusAccepted:
		return timestampAccepted
	case domain.OrderStatusPreparing:
		return timestampPreparing
	case domain.OrderStatusReady:
		return timestampReady
	case domain.OrderStatusDispatched:
		return timestampDispatched
	case domain.OrderStatusArrived:
		return timestampArrived
	case domain.OrderStatusDelivered:
		return timestampDelivered
	case domain.OrderStatusCancelled:
		return timestampCancelled
	}
	return timestampNone
}

func (f timestampField) slot(ts *domain.OrderTimestamps) **time.Time {
	switch f {
	case timestampAccepted:
		return &ts.AcceptedAt
	case timestampPreparing:
		return &ts.PreparingAt
	case timestampReady:
		return &ts.ReadyAt
	case timestampDispatched:
		return &ts.DispatchedAt
	case timestampArrived:
		return &ts.ArrivedAt
	case timestampDelivered:
		return &ts.DeliveredAt
	case timestampCancelled:
		return &ts.CancelledAt
	}
	return nil
}

// stampStatus sets the timestamp for status unless it was already recorded. It reports whether a
// timestamp was written.
func stampStatus(ts *domain.OrderTimestamps, status domain.OrderStatus, now time.Time) bool {
	slot := timestampFieldFor(status).slot(ts)
	if slot == nil || *slot != nil {
		return false
	}
	stamped := now
	*slot = &stamped
	return true
}
