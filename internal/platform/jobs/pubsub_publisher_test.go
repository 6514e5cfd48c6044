package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/services"
)

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	defer topic.Stop()

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}
	publisher.newID = func() string { return "evt_test" }

	occurredAt := time.Date(2026, 3, 14, 20, 30, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:           services.OrderEventAssigned,
		OrderID:        "ord_123",
		OrderNumber:    "00003F",
		Category:       domain.OrderCategoryDelivery,
		PreviousStatus: domain.OrderStatusReady,
		CurrentStatus:  domain.OrderStatusDispatched,
		CourierID:      "moto-1",
		OccurredAt:     occurredAt,
	}

	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if messages[0].OrderingKey != "ord_123" {
		t.Fatalf("expected ordering key ord_123, got %q", messages[0].OrderingKey)
	}

	var payload OrderEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.EventID != "evt_test" || payload.EventType != "order_assigned" || payload.EventVersion != 1 {
		t.Fatalf("unexpected envelope %#v", payload)
	}
	if !payload.OccurredAt.Equal(occurredAt) {
		t.Fatalf("expected occurredAt %s, got %s", occurredAt, payload.OccurredAt)
	}
	if payload.Payload["motoboyId"] != "moto-1" || payload.Payload["previousStatus"] != "ready" {
		t.Fatalf("unexpected payload %#v", payload.Payload)
	}

	attrs := messages[0].Attributes
	if attrs["eventType"] != "order_assigned" || attrs["status"] != "dispatched" || attrs["courierId"] != "moto-1" {
		t.Fatalf("unexpected attributes %#v", attrs)
	}
}

func TestNewPubSubOrderEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}

func TestSetAttrSkipsBlank(t *testing.T) {
	attrs := map[string]string{}
	setAttr(attrs, "courierId", "  ")
	setAttr(attrs, "orderId", " ord_1 ")
	if _, ok := attrs["courierId"]; ok {
		t.Fatalf("blank values must not become attributes")
	}
	if attrs["orderId"] != "ord_1" {
		t.Fatalf("expected trimmed orderId, got %q", attrs["orderId"])
	}
}
