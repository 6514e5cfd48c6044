package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/auth"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/httpx"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/pagination"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/services"
)

const maxRestockBodySize = 2 * 1024

type restockRequest struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

// ProductHandlers exposes stock ledger reads and manual restocks.
type ProductHandlers struct {
	gate      authGate
	inventory services.InventoryService
}

func NewProductHandlers(authn *auth.Authenticator, inventory services.InventoryService, opts ...GateOption) *ProductHandlers {
	return &ProductHandlers{gate: newAuthGate(authn, opts), inventory: inventory}
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	h.gate.install(r)
	r.With(auth.RequireRoles(auth.RoleStaff, auth.RoleAdmin)).Get("/{productID}/stock-ledger", h.listLedger)
	r.With(auth.RequireRoles(auth.RoleAdmin)).Post("/{productID}:restock", h.restock)
}

func (h *ProductHandlers) listLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.inventory.ListLedger(ctx, productID, params.Domain())
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	items := make([]ledgerEntryPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, buildLedgerEntryPayload(entry))
	}
	writeJSONResponse(w, http.StatusOK, ledgerListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *ProductHandlers) restock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req restockRequest
	if err := decodeJSONBody(r, maxRestockBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	change, err := h.inventory.Restock(ctx, services.RestockCommand{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		Quantity:  req.Quantity,
		Reason:    req.Reason,
		ActorID:   identity.ActorID(),
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, restockResponse{
		ProductID: change.ProductID,
		Previous:  change.Previous,
		Current:   change.Current,
		Entry:     buildLedgerEntryPayload(change.Entry),
	})
}

type ledgerListResponse struct {
	Items         []ledgerEntryPayload `json:"items"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}

type restockResponse struct {
	ProductID string             `json:"product_id"`
	Previous  int                `json:"previous_stock"`
	Current   int                `json:"new_stock"`
	Entry     ledgerEntryPayload `json:"entry"`
}

type ledgerEntryPayload struct {
	ID              string  `json:"id"`
	ProductID       string  `json:"product_id"`
	PreviousStock   int     `json:"previous_stock"`
	NewStock        int     `json:"new_stock"`
	Change          int     `json:"change"`
	RequestedChange int     `json:"requested_change"`
	Clamped         bool    `json:"clamped,omitempty"`
	Reason          string  `json:"reason"`
	OrderID         *string `json:"order_id,omitempty"`
	ActorID         *string `json:"actor_id,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

func buildLedgerEntryPayload(entry services.StockLedgerEntry) ledgerEntryPayload {
	return ledgerEntryPayload{
		ID:              entry.ID,
		ProductID:       entry.ProductID,
		PreviousStock:   entry.PreviousStock,
		NewStock:        entry.NewStock,
		Change:          entry.Change,
		RequestedChange: entry.RequestedChange,
		Clamped:         entry.Clamped(),
		Reason:          entry.Reason,
		OrderID:         cloneStringPointer(entry.OrderID),
		ActorID:         cloneStringPointer(entry.ActorID),
		CreatedAt:       formatTime(entry.CreatedAt),
	}
}

func writeInventoryError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInventoryProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInventoryStoreFailure):
		httpx.WriteError(ctx, w, httpx.NewError("inventory_store_unavailable", "inventory store unavailable, retry later", http.StatusServiceUnavailable).WithDetails(map[string]any{
			"retryable": true,
		}))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("inventory_error", "failed to process inventory request", http.StatusInternalServerError))
	}
}
