package services

import (
	"context"
	"errors"
)

// OrderEventFanout delivers each event to every configured publisher. A failing publisher does not
// stop delivery to the others; their errors are joined.
type OrderEventFanout struct {
	publishers []OrderEventPublisher
}

var _ OrderEventPublisher = (*OrderEventFanout)(nil)

// NewOrderEventFanout skips nil publishers.
func NewOrderEventFanout(publishers ...OrderEventPublisher) *OrderEventFanout {
	fanout := &OrderEventFanout{}
	for _, publisher := range publishers {
		if publisher != nil {
			fanout.publishers = append(fanout.publishers, publisher)
		}
	}
	return fanout
}

func (f *OrderEventFanout) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, publisher := range f.publishers {
		if err := publisher.PublishOrderEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Payload flattens the event into the JSON record pushed to observers. Every payload carries
// orderId; status fields and courier are included when set.
func (e OrderEvent) Payload() map[string]any {
	payload := make(map[string]any, len(e.Metadata)+6)
	for k, v := range e.Metadata {
		payload[k] = v
	}
	payload["orderId"] = e.OrderID
	if e.OrderNumber != "" {
		payload["orderNumber"] = e.OrderNumber
	}
	if e.Category != "" {
		payload["category"] = string(e.Category)
	}
	if e.CurrentStatus != "" {
		payload["status"] = string(e.CurrentStatus)
	}
	if e.PreviousStatus != "" {
		payload["previousStatus"] = string(e.PreviousStatus)
	}
	if e.CourierID != "" {
		payload["motoboyId"] = e.CourierID
	}
	if !e.OccurredAt.IsZero() {
		payload["occurredAt"] = e.OccurredAt
	}
	return payload
}
