package services

import (
	"errors"
	"slices"
	"testing"
	"time"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
)

func TestTransitionTablesMatchLifecycle(t *testing.T) {
	expected := map[domain.OrderCategory]map[domain.OrderStatus][]domain.OrderStatus{
		domain.OrderCategoryDelivery: {
			domain.OrderStatusPending:    {domain.OrderStatusAccepted, domain.OrderStatusCancelled},
			domain.OrderStatusAccepted:   {domain.OrderStatusPreparing, domain.OrderStatusCancelled},
			domain.OrderStatusPreparing:  {domain.OrderStatusReady, domain.OrderStatusCancelled},
			domain.OrderStatusReady:      {domain.OrderStatusDispatched, domain.OrderStatusCancelled},
			domain.OrderStatusDispatched: {domain.OrderStatusArrived, domain.OrderStatusDelivered, domain.OrderStatusCancelled},
			domain.OrderStatusArrived:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
			domain.OrderStatusDelivered:  nil,
			domain.OrderStatusCancelled:  nil,
		},
		domain.OrderCategoryCounter: {
			domain.OrderStatusPending:    {domain.OrderStatusAccepted, domain.OrderStatusCancelled},
			domain.OrderStatusAccepted:   {domain.OrderStatusPreparing, domain.OrderStatusDelivered, domain.OrderStatusCancelled},
			domain.OrderStatusPreparing:  {domain.OrderStatusReady, domain.OrderStatusDelivered, domain.OrderStatusCancelled},
			domain.OrderStatusReady:      {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
			domain.OrderStatusDispatched: nil,
			domain.OrderStatusArrived:    nil,
			domain.OrderStatusDelivered:  nil,
			domain.OrderStatusCancelled:  nil,
		},
	}

	for category, table := range expected {
		for _, current := range domain.OrderStatuses {
			want := table[current]
			got := AllowedTransitions(category, current)
			if !slices.Equal(got, want) {
				t.Fatalf("%s/%s: expected allowed %v, got %v", category, current, want, got)
			}
			for _, requested := range domain.OrderStatuses {
				allowed := IsTransitionAllowed(current, requested, category)
				if allowed != slices.Contains(want, requested) {
					t.Fatalf("%s: %s -> %s allowed=%v, expected %v", category, current, requested, allowed, !allowed)
				}
			}
		}
	}
}

func TestTerminalStatusesRejectEveryTarget(t *testing.T) {
	for _, category := range []domain.OrderCategory{domain.OrderCategoryDelivery, domain.OrderCategoryCounter} {
		for _, terminal := range []domain.OrderStatus{domain.OrderStatusDelivered, domain.OrderStatusCancelled} {
			for _, requested := range domain.OrderStatuses {
				err := checkTransition(domain.Order{Category: category, Status: terminal}, requested)
				var transitionErr *TransitionError
				if !errors.As(err, &transitionErr) {
					t.Fatalf("%s/%s -> %s: expected TransitionError, got %v", category, terminal, requested, err)
				}
				if !errors.Is(err, ErrOrderInvalidTransition) {
					t.Fatalf("expected ErrOrderInvalidTransition, got %v", err)
				}
				if len(transitionErr.Allowed) != 0 {
					t.Fatalf("terminal status should report no allowed targets, got %v", transitionErr.Allowed)
				}
			}
		}
	}
}

func TestCheckTransitionReportsAllowedSet(t *testing.T) {
	err := checkTransition(domain.Order{Category: domain.OrderCategoryDelivery, Status: domain.OrderStatusPending}, domain.OrderStatusReady)
	var transitionErr *TransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if transitionErr.Current != domain.OrderStatusPending || transitionErr.Requested != domain.OrderStatusReady {
		t.Fatalf("unexpected transition error fields: %+v", transitionErr)
	}
	want := []domain.OrderStatus{domain.OrderStatusAccepted, domain.OrderStatusCancelled}
	if !slices.Equal(transitionErr.Allowed, want) {
		t.Fatalf("expected allowed %v, got %v", want, transitionErr.Allowed)
	}
}

func TestUnknownCategoryHasNoTransitions(t *testing.T) {
	if IsTransitionAllowed(domain.OrderStatusPending, domain.OrderStatusAccepted, domain.OrderCategory("drive_thru")) {
		t.Fatalf("unknown category must not allow transitions")
	}
	if got := AllowedTransitions(domain.OrderCategory("drive_thru"), domain.OrderStatusPending); len(got) != 0 {
		t.Fatalf("expected no allowed transitions, got %v", got)
	}
}

func TestAllowedTransitionsReturnsCopy(t *testing.T) {
	got := AllowedTransitions(domain.OrderCategoryDelivery, domain.OrderStatusPending)
	got[0] = domain.OrderStatusDelivered
	if deliveryTransitions[domain.OrderStatusPending][0] != domain.OrderStatusAccepted {
		t.Fatalf("mutating the returned slice must not alter the table")
	}
}

func TestTimestampFieldForCoversEveryStatus(t *testing.T) {
	seen := map[timestampField]domain.OrderStatus{}
	for _, status := range domain.OrderStatuses {
		field := timestampFieldFor(status)
		if status == domain.OrderStatusPending {
			if field != timestampNone {
				t.Fatalf("pending must not stamp a timestamp")
			}
			continue
		}
		if field == timestampNone {
			t.Fatalf("status %s has no timestamp field", status)
		}
		if other, dup := seen[field]; dup {
			t.Fatalf("statuses %s and %s share a timestamp field", status, other)
		}
		seen[field] = status
	}
}

func TestStampStatusNeverOverwrites(t *testing.T) {
	first := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	var ts domain.OrderTimestamps
	if !stampStatus(&ts, domain.OrderStatusAccepted, first) {
		t.Fatalf("expected first stamp to be written")
	}
	if stampStatus(&ts, domain.OrderStatusAccepted, later) {
		t.Fatalf("expected second stamp to be skipped")
	}
	if !ts.AcceptedAt.Equal(first) {
		t.Fatalf("expected acceptedAt %s, got %s", first, ts.AcceptedAt)
	}
	if stampStatus(&ts, domain.OrderStatusPending, later) {
		t.Fatalf("pending has no timestamp to stamp")
	}
}
