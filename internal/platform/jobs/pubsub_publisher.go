package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/services"
)

const orderEventVersion = 1

// OrderEventMessage is the JSON body relayed to downstream consumers.
type OrderEventMessage struct {
	EventID      string         `json:"eventId"`
	EventType    string         `json:"eventType"`
	EventVersion int            `json:"eventVersion"`
	OrderID      string         `json:"orderId"`
	OccurredAt   time.Time      `json:"occurredAt"`
	Payload      map[string]any `json:"payload"`
}

// PubSubOrderEventPublisher relays committed order events to a Pub/Sub topic. Messages for the
// same order share an ordering key.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	newID   func() string
}

var _ services.OrderEventPublisher = (*PubSubOrderEventPublisher)(nil)

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event relay.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubOrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
		newID: func() string {
			return "evt_" + ulid.Make().String()
		},
	}, nil
}

// PublishOrderEvent blocks until Pub/Sub acknowledges the message.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order event publisher: not initialised")
	}

	data, err := p.marshal(OrderEventMessage{
		EventID:      p.newID(),
		EventType:    event.Type,
		EventVersion: orderEventVersion,
		OrderID:      event.OrderID,
		OccurredAt:   event.OccurredAt.UTC(),
		Payload:      event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "category", string(event.Category))
	setAttr(attrs, "status", string(event.CurrentStatus))
	setAttr(attrs, "courierId", event.CourierID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: strings.TrimSpace(event.OrderID),
	})

	if _, err := result.Get(ctx); err != nil {
		if key := strings.TrimSpace(event.OrderID); key != "" {
			p.topic.ResumePublish(key)
		}
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
