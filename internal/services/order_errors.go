package services

import (
	"errors"
	"fmt"
	"strings"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the requested status is not reachable from the current one.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderInvalidPrecondition indicates the operation requires the order to be in a specific state.
	ErrOrderInvalidPrecondition = errors.New("order: invalid precondition")
	// ErrOrderInvalidReference indicates a referenced user, address, product or courier does not exist.
	ErrOrderInvalidReference = errors.New("order: invalid reference")
	// ErrOrderStoreFailure indicates the backing store failed; nothing was applied and the call may be retried.
	ErrOrderStoreFailure = errors.New("order: store failure")
)

// TransitionError reports a rejected status change together with the statuses that are reachable.
type TransitionError struct {
	Category  domain.OrderCategory
	Current   domain.OrderStatus
	Requested domain.OrderStatus
	Allowed   []domain.OrderStatus
}

func (e *TransitionError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("%s: %s order in status %q cannot change to %q: status is terminal",
			ErrOrderInvalidTransition, e.Category, e.Current, e.Requested)
	}
	allowed := make([]string, len(e.Allowed))
	for i, status := range e.Allowed {
		allowed[i] = string(status)
	}
	return fmt.Sprintf("%s: %s order in status %q cannot change to %q (allowed: %s)",
		ErrOrderInvalidTransition, e.Category, e.Current, e.Requested, strings.Join(allowed, ", "))
}

// Is lets errors.Is match ErrOrderInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrOrderInvalidTransition
}

// PreconditionError reports an operation attempted while the order is in the wrong state.
type PreconditionError struct {
	Operation string
	Required  domain.OrderStatus
	Current   domain.OrderStatus
	Detail    string
}

func (e *PreconditionError) Error() string {
	msg := fmt.Sprintf("%s: %s requires status %q but order is %q", ErrOrderInvalidPrecondition, e.Operation, e.Required, e.Current)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is lets errors.Is match ErrOrderInvalidPrecondition.
func (e *PreconditionError) Is(target error) bool {
	return target == ErrOrderInvalidPrecondition
}

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryProductNotFound indicates the product does not exist.
	ErrInventoryProductNotFound = errors.New("inventory: product not found")
	// ErrInventoryStoreFailure indicates the stock update or ledger append failed.
	ErrInventoryStoreFailure = errors.New("inventory: store failure")
)
