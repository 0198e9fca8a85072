package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/services"
)

// AdminHandlers exposes back-office order and return operations. Every route requires the admin role.
type AdminHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	returns services.ReturnService
}

// NewAdminHandlers constructs admin handlers.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, returns services.ReturnService) *AdminHandlers {
	return &AdminHandlers{authn: authn, orders: orders, returns: returns}
}

// Routes wires the /admin endpoints onto the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
		r.Use(observability.IdentityCapture())
	}
	r.Get("/orders", h.listOrders)
	r.Post("/orders/{orderID}:transition", h.transitionOrder)
	r.Post("/orders/{orderID}:fulfillment", h.updateFulfillment)
	r.Get("/returns", h.listReturns)
	r.Post("/returns/{returnID}:transition", h.transitionReturn)
	r.Post("/returns:bulkTransition", h.bulkTransitionReturns)
}

type orderTransitionRequest struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

type fulfillmentRequest struct {
	Status string `json:"status"`
}

type returnTransitionRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

type bulkReturnTransitionRequest struct {
	ReturnIDs []string `json:"return_ids"`
	Status    string   `json:"status"`
	Notes     string   `json:"notes,omitempty"`
}

type bulkFailurePayload struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	size, err := parsePageSize(r.URL.Query().Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	orders, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		UserID: strings.TrimSpace(r.URL.Query().Get("user_id")),
		Status: domain.OrderStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
		Limit:  size,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	out := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		out = append(out, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req orderTransitionRequest
	if err := httpx.DecodeJSON(r, &req, maxBodySize); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		Actor:          auth.ActorFromContext(ctx),
		OrderID:        chi.URLParam(r, "orderID"),
		Status:         domain.OrderStatus(strings.TrimSpace(req.Status)),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *AdminHandlers) updateFulfillment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req fulfillmentRequest
	if err := httpx.DecodeJSON(r, &req, maxBodySize); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	order, err := h.orders.UpdateFulfillment(ctx, services.FulfillmentUpdateCommand{
		Actor:   auth.ActorFromContext(ctx),
		OrderID: chi.URLParam(r, "orderID"),
		Status:  domain.FulfillmentStatus(strings.TrimSpace(req.Status)),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *AdminHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	size, err := parsePageSize(r.URL.Query().Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	query := r.URL.Query()
	requests, err := h.returns.ListReturns(ctx, services.ReturnListFilter{
		OrderID: strings.TrimSpace(query.Get("order_id")),
		UserID:  strings.TrimSpace(query.Get("user_id")),
		Status:  domain.ReturnStatus(strings.TrimSpace(query.Get("status"))),
		Limit:   size,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	out := make([]returnPayload, 0, len(requests))
	for _, request := range requests {
		out = append(out, buildReturnPayload(request))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"returns": out})
}

func (h *AdminHandlers) transitionReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req returnTransitionRequest
	if err := httpx.DecodeJSON(r, &req, maxBodySize); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	request, err := h.returns.TransitionReturn(ctx, services.TransitionReturnCommand{
		Actor:    auth.ActorFromContext(ctx),
		ReturnID: chi.URLParam(r, "returnID"),
		Status:   domain.ReturnStatus(strings.TrimSpace(req.Status)),
		Notes:    req.Notes,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"return": buildReturnPayload(request)})
}

func (h *AdminHandlers) bulkTransitionReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req bulkReturnTransitionRequest
	if err := httpx.DecodeJSON(r, &req, maxBodySize); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	result, err := h.returns.BulkTransition(ctx, services.BulkTransitionCommand{
		Actor:     auth.ActorFromContext(ctx),
		ReturnIDs: req.ReturnIDs,
		Status:    domain.ReturnStatus(strings.TrimSpace(req.Status)),
		Notes:     req.Notes,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	updated := make([]returnPayload, 0, len(result.Updated))
	for _, request := range result.Updated {
		updated = append(updated, buildReturnPayload(request))
	}
	failed := make([]bulkFailurePayload, 0, len(result.Failed))
	for _, failure := range result.Failed {
		failed = append(failed, bulkFailurePayload(failure))
	}
	status := http.StatusOK
	if len(failed) > 0 && len(updated) > 0 {
		status = http.StatusMultiStatus
	}
	httpx.WriteJSON(w, status, map[string]any{
		"updated":       updated,
		"failed":        failed,
		"failed_emails": nonNil(result.FailedEmails),
	})
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
