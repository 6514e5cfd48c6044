package realtime

import (
	"context"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/services"
)

// OrderEventPublisher pushes committed order events onto the hub.
type OrderEventPublisher struct {
	hub *Hub
}

var _ services.OrderEventPublisher = (*OrderEventPublisher)(nil)

func NewOrderEventPublisher(hub *Hub) *OrderEventPublisher {
	return &OrderEventPublisher{hub: hub}
}

func (p *OrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.hub == nil {
		return nil
	}
	p.hub.Publish(ctx, Kind(event.Type), event.Payload())
	return nil
}
