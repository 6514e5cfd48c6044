package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/domain"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/auth"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/httpx"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/pagination"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 32 * 1024
	maxOrderActionBody   = 4 * 1024
)

var orderPaging = pagination.Options{DefaultPageSize: defaultOrderPageSize, MaxPageSize: maxOrderPageSize}

// Couriers may only report the last two legs of their own deliveries.
var courierSettableStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusArrived:   {},
	domain.OrderStatusDelivered: {},
}

type createOrderRequest struct {
	Category      string               `json:"category"`
	UserID        string               `json:"user_id"`
	AddressID     *string              `json:"address_id"`
	Items         []createOrderItemReq `json:"items"`
	Subtotal      *decimal.Decimal     `json:"subtotal"`
	Discount      decimal.Decimal      `json:"discount"`
	DeliveryFee   decimal.Decimal      `json:"delivery_fee"`
	Total         *decimal.Decimal     `json:"total"`
	PaymentMethod string               `json:"payment_method"`
	ChangeFor     *decimal.Decimal     `json:"change_for"`
	Notes         string               `json:"notes"`
}

type createOrderItemReq struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type changeStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type assignCourierRequest struct {
	CourierID string `json:"courier_id"`
}

type deliveryFeeRequest struct {
	DeliveryFee *decimal.Decimal `json:"delivery_fee"`
}

// OrderHandlers exposes the order lifecycle over HTTP.
type OrderHandlers struct {
	gate   authGate
	orders services.OrderService
}

func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...GateOption) *OrderHandlers {
	return &OrderHandlers{
		gate:   newAuthGate(authn, opts),
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	h.gate.install(r)
	r.Post("/", h.createOrder)
	r.With(auth.RequireRoles(auth.RoleStaff, auth.RoleAdmin)).Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:status", h.changeStatus)
	r.With(auth.RequireRoles(auth.RoleStaff, auth.RoleAdmin)).Post("/{orderID}:assign", h.assignCourier)
	r.With(auth.RequireRoles(auth.RoleAdmin)).Post("/{orderID}:delivery-fee", h.adjustDeliveryFee)
	r.With(auth.RequireRoles(auth.RoleAdmin)).Delete("/{orderID}", h.deleteOrder)
}

// MeRoutes registers /me/orders for the authenticated customer.
func (h *OrderHandlers) MeRoutes(r chi.Router) {
	if r == nil {
		return
	}
	h.gate.install(r)
	r.Get("/orders", h.listMyOrders)
}

// CourierRoutes registers /couriers/{courierID}/orders.
func (h *OrderHandlers) CourierRoutes(r chi.Router) {
	if r == nil {
		return
	}
	h.gate.install(r)
	r.Get("/{courierID}/orders", h.courierReport)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.CreateOrderCommand{
		Category:      domain.OrderCategory(strings.ToLower(strings.TrimSpace(req.Category))),
		UserID:        strings.TrimSpace(req.UserID),
		AddressID:     optionalTrimmed(req.AddressID),
		Subtotal:      req.Subtotal,
		Discount:      req.Discount,
		DeliveryFee:   req.DeliveryFee,
		Total:         req.Total,
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		ChangeFor:     req.ChangeFor,
		Notes:         req.Notes,
		ActorID:       identity.ActorID(),
	}
	if cmd.Category == "" {
		cmd.Category = domain.OrderCategoryDelivery
	}

	// Customers order delivery for themselves; the register (counter) and ordering on behalf of
	// someone else are staff only.
	if !identity.IsStaff() {
		if cmd.Category != domain.OrderCategoryDelivery {
			httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "counter orders require staff role", http.StatusForbidden))
			return
		}
		if cmd.UserID != "" && cmd.UserID != identity.UID {
			httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "cannot place orders for another user", http.StatusForbidden))
			return
		}
	}
	if cmd.UserID == "" {
		cmd.UserID = identity.UID
	}

	cmd.Lines = make([]services.OrderLineInput, 0, len(req.Items))
	for _, item := range req.Items {
		cmd.Lines = append(cmd.Lines, services.OrderLineInput{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}

	query := r.URL.Query()
	filter := services.OrderListFilter{}
	for _, raw := range parseFilterValues(query["status"]) {
		filter.Statuses = append(filter.Statuses, domain.OrderStatus(raw))
	}
	if raw := strings.ToLower(strings.TrimSpace(query.Get("category"))); raw != "" {
		category := domain.OrderCategory(raw)
		filter.Category = &category
	}

	from, err := parseOptionalTime(query.Get("created_after"), "created_after")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	to, err := parseOptionalTime(query.Get("created_before"), "created_before")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.CreatedIn = domain.TimeRange{From: from, To: to}

	params, err := pagination.Parse(query, orderPaging)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.Pagination = params.Domain()

	page, err := h.orders.ListOrdersByStatus(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, orderPaging)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrdersByUser(ctx, identity.UID, params.Domain())
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderSummaryListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !canViewOrder(identity, order) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) changeStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	var req changeStatusRequest
	if err := decodeJSONBody(r, maxOrderActionBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))

	if !identity.IsStaff() {
		order, err := h.orders.GetOrder(ctx, orderID)
		if err != nil {
			writeOrderError(ctx, w, err)
			return
		}
		if !canViewOrder(identity, order) {
			httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
			return
		}
		if !mayChangeOwnStatus(identity, order, status) {
			httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "identity cannot apply this status", http.StatusForbidden))
			return
		}
	}

	order, err := h.orders.ChangeStatus(ctx, services.ChangeStatusCommand{
		OrderID: orderID,
		Status:  status,
		Reason:  strings.TrimSpace(req.Reason),
		ActorID: identity.ActorID(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) assignCourier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	var req assignCourierRequest
	if err := decodeJSONBody(r, maxOrderActionBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.AssignCourier(ctx, services.AssignCourierCommand{
		OrderID:   orderID,
		CourierID: strings.TrimSpace(req.CourierID),
		ActorID:   identity.ActorID(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) adjustDeliveryFee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	var req deliveryFeeRequest
	if err := decodeJSONBody(r, maxOrderActionBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if req.DeliveryFee == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "delivery_fee is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.AdjustDeliveryFee(ctx, services.AdjustDeliveryFeeCommand{
		OrderID:     orderID,
		DeliveryFee: *req.DeliveryFee,
		ActorID:     identity.ActorID(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	if err := h.orders.DeleteOrder(ctx, services.DeleteOrderCommand{OrderID: orderID, ActorID: identity.ActorID()}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandlers) courierReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	courierID := strings.TrimSpace(chi.URLParam(r, "courierID"))
	if courierID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "courier id is required", http.StatusBadRequest))
		return
	}
	if !identity.IsStaff() && !(identity.HasRole(auth.RoleCourier) && identity.UID == courierID) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "identity cannot read this courier report", http.StatusForbidden))
		return
	}

	query := r.URL.Query()
	from, err := parseOptionalTime(query.Get("from"), "from")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	to, err := parseOptionalTime(query.Get("to"), "to")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	report, err := h.orders.CourierReport(ctx, courierID, domain.TimeRange{From: from, To: to})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(report.Orders))
	for _, order := range report.Orders {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, courierReportResponse{
		CourierID:      report.CourierID,
		Orders:         items,
		DeliveredCount: report.DeliveredCount,
		DeliveryFees:   formatMoney(report.DeliveryFees),
	})
}

func (h *OrderHandlers) available(ctx context.Context, w http.ResponseWriter) bool {
	if h == nil || h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func orderIDParam(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

// canViewOrder lets staff read everything, customers their own orders and couriers the orders
// assigned to them. Courier identities use the courier id as their uid.
func canViewOrder(identity *auth.Identity, order services.Order) bool {
	if identity.IsStaff() {
		return true
	}
	if strings.TrimSpace(order.UserID) == identity.UID {
		return true
	}
	return order.CourierID != nil && *order.CourierID == identity.UID && identity.HasRole(auth.RoleCourier)
}

// mayChangeOwnStatus covers non-staff callers: a customer may cancel a pending order, the assigned
// courier may report arrival and delivery.
func mayChangeOwnStatus(identity *auth.Identity, order services.Order, status domain.OrderStatus) bool {
	if status == domain.OrderStatusCancelled && order.UserID == identity.UID {
		return order.Status == domain.OrderStatusPending
	}
	if _, ok := courierSettableStatuses[status]; ok {
		return identity.HasRole(auth.RoleCourier) && order.CourierID != nil && *order.CourierID == identity.UID
	}
	return false
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderSummaryListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type courierReportResponse struct {
	CourierID      string                `json:"courier_id"`
	Orders         []orderSummaryPayload `json:"orders"`
	DeliveredCount int                   `json:"delivered_count"`
	DeliveryFees   string                `json:"delivery_fees"`
}

type orderSummaryPayload struct {
	ID          string  `json:"id"`
	Number      string  `json:"number"`
	Category    string  `json:"category"`
	Status      string  `json:"status"`
	CourierID   *string `json:"courier_id,omitempty"`
	DeliveryFee string  `json:"delivery_fee"`
	Total       string  `json:"total"`
	CreatedAt   string  `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                    string                 `json:"id"`
	Number                string                 `json:"number"`
	Category              string                 `json:"category"`
	Status                string                 `json:"status"`
	UserID                string                 `json:"user_id"`
	AddressID             *string                `json:"address_id,omitempty"`
	CourierID             *string                `json:"courier_id,omitempty"`
	Subtotal              string                 `json:"subtotal"`
	Discount              string                 `json:"discount"`
	DeliveryFee           string                 `json:"delivery_fee"`
	OriginalDeliveryFee   *string                `json:"original_delivery_fee,omitempty"`
	DeliveryFeeAdjusted   bool                   `json:"delivery_fee_adjusted"`
	DeliveryFeeAdjustedAt string                 `json:"delivery_fee_adjusted_at,omitempty"`
	Total                 string                 `json:"total"`
	PaymentMethod         string                 `json:"payment_method"`
	ChangeFor             *string                `json:"change_for,omitempty"`
	Notes                 string                 `json:"notes,omitempty"`
	Oversold              bool                   `json:"oversold,omitempty"`
	CancelReason          *string                `json:"cancel_reason,omitempty"`
	Items                 []orderItemPayload     `json:"items"`
	Timestamps            orderTimestampsPayload `json:"timestamps"`
	Audit                 *orderAuditPayload     `json:"audit,omitempty"`
	CreatedAt             string                 `json:"created_at"`
	UpdatedAt             string                 `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

type orderTimestampsPayload struct {
	AcceptedAt   string `json:"accepted_at,omitempty"`
	PreparingAt  string `json:"preparing_at,omitempty"`
	ReadyAt      string `json:"ready_at,omitempty"`
	DispatchedAt string `json:"dispatched_at,omitempty"`
	ArrivedAt    string `json:"arrived_at,omitempty"`
	DeliveredAt  string `json:"delivered_at,omitempty"`
	CancelledAt  string `json:"cancelled_at,omitempty"`
}

type orderAuditPayload struct {
	CreatedBy *string `json:"created_by,omitempty"`
	UpdatedBy *string `json:"updated_by,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          strings.TrimSpace(order.ID),
		Number:      strings.TrimSpace(order.Number),
		Category:    string(order.Category),
		Status:      string(order.Status),
		CourierID:   cloneStringPointer(order.CourierID),
		DeliveryFee: formatMoney(order.DeliveryFee),
		Total:       formatMoney(order.Total),
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                    strings.TrimSpace(order.ID),
		Number:                strings.TrimSpace(order.Number),
		Category:              string(order.Category),
		Status:                string(order.Status),
		UserID:                strings.TrimSpace(order.UserID),
		AddressID:             cloneStringPointer(order.AddressID),
		CourierID:             cloneStringPointer(order.CourierID),
		Subtotal:              formatMoney(order.Subtotal),
		Discount:              formatMoney(order.Discount),
		DeliveryFee:           formatMoney(order.DeliveryFee),
		OriginalDeliveryFee:   formatMoneyPtr(order.OriginalDeliveryFee),
		DeliveryFeeAdjusted:   order.DeliveryFeeAdjusted,
		DeliveryFeeAdjustedAt: formatOptionalTime(order.DeliveryFeeAdjustedAt),
		Total:                 formatMoney(order.Total),
		PaymentMethod:         string(order.PaymentMethod),
		ChangeFor:             formatMoneyPtr(order.ChangeFor),
		Notes:                 order.Notes,
		Oversold:              order.Oversold,
		CancelReason:          cloneStringPointer(order.CancelReason),
		Items:                 make([]orderItemPayload, 0, len(order.Lines)),
		Timestamps: orderTimestampsPayload{
			AcceptedAt:   formatOptionalTime(order.Timestamps.AcceptedAt),
			PreparingAt:  formatOptionalTime(order.Timestamps.PreparingAt),
			ReadyAt:      formatOptionalTime(order.Timestamps.ReadyAt),
			DispatchedAt: formatOptionalTime(order.Timestamps.DispatchedAt),
			ArrivedAt:    formatOptionalTime(order.Timestamps.ArrivedAt),
			DeliveredAt:  formatOptionalTime(order.Timestamps.DeliveredAt),
			CancelledAt:  formatOptionalTime(order.Timestamps.CancelledAt),
		},
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}

	for _, line := range order.Lines {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:   strings.TrimSpace(line.ProductID),
			ProductName: strings.TrimSpace(line.ProductName),
			Quantity:    line.Quantity,
			UnitPrice:   formatMoney(line.UnitPrice),
			LineTotal:   formatMoney(line.LineTotal),
		})
	}

	if order.Audit.CreatedBy != nil || order.Audit.UpdatedBy != nil {
		payload.Audit = &orderAuditPayload{
			CreatedBy: cloneStringPointer(order.Audit.CreatedBy),
			UpdatedBy: cloneStringPointer(order.Audit.UpdatedBy),
		}
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var transitionErr *services.TransitionError
	var preconditionErr *services.PreconditionError
	switch {
	case errors.As(err, &transitionErr):
		allowed := make([]string, 0, len(transitionErr.Allowed))
		for _, status := range transitionErr.Allowed {
			allowed = append(allowed, string(status))
		}
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_transition", err.Error(), http.StatusConflict).WithDetails(map[string]any{
			"current_status":   string(transitionErr.Current),
			"requested_status": string(transitionErr.Requested),
			"allowed_statuses": allowed,
		}))
	case errors.As(err, &preconditionErr):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_precondition", err.Error(), http.StatusConflict).WithDetails(map[string]any{
			"required_status": string(preconditionErr.Required),
			"current_status":  string(preconditionErr.Current),
		}))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidPrecondition):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_precondition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidReference):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_reference", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderStoreFailure):
		httpx.WriteError(ctx, w, httpx.NewError("order_store_unavailable", "order store unavailable, retry later", http.StatusServiceUnavailable).WithDetails(map[string]any{
			"retryable": true,
		}))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "request did not complete in time", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
