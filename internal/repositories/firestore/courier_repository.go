package firestore

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
	pfirestore "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/firestore"
)

type courierDocument struct {
	Name   string `firestore:"name"`
	Active bool   `firestore:"active"`
}

// CourierRepository resolves motoboys from the couriers collection.
type CourierRepository struct {
	store *Store
}

func (r *CourierRepository) FindByID(ctx context.Context, courierID string) (domain.Courier, error) {
	id := strings.TrimSpace(courierID)
	ref, err := r.store.doc(ctx, couriersCollection+"/"+id)
	if err != nil {
		return domain.Courier{}, err
	}
	snap, err := get(ctx, ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.Courier{}, notFound("couriers.find", "courier "+id+" not found")
		}
		return domain.Courier{}, pfirestore.WrapError("couriers.find", err)
	}
	var doc courierDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Courier{}, fmt.Errorf("firestore couriers decode %s: %w", id, err)
	}
	return domain.Courier{ID: id, Name: doc.Name, Active: doc.Active}, nil
}
