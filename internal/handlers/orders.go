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

// OrderHandlers exposes checkout, order history and return requests for signed-in users.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	returns     services.ReturnService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithIdempotency guards the POST routes with the given middleware. It runs after authentication
// so keys are scoped to the caller.
func WithIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) { h.idempotency = mw }
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, returns services.ReturnService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders, returns: returns}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
		r.Use(observability.IdentityCapture())
	}
	if h.idempotency != nil {
		r.Use(h.idempotency)
	}
	r.Post("/", h.placeOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/returns", h.requestReturn)
}

type placeOrderRequest struct {
	PaymentMethod   string          `json:"payment_method"`
	ShippingAddress *addressPayload `json:"shipping_address,omitempty"`
	BillingAddress  *addressPayload `json:"billing_address,omitempty"`
}

type requestReturnRequest struct {
	Items  []returnItemPayload `json:"items"`
	Reason string              `json:"reason"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req placeOrderRequest
	if err := httpx.DecodeJSON(r, &req, maxBodySize); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.PlaceOrder(ctx, services.PlaceOrderCommand{
		Actor:           auth.ActorFromContext(ctx),
		PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
		ShippingAddress: req.ShippingAddress.toDomain(),
		BillingAddress:  req.BillingAddress.toDomain(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := auth.ActorFromContext(ctx)
	if !actor.Authenticated() {
		writeUnauthenticated(ctx, w)
		return
	}
	size, err := parsePageSize(r.URL.Query().Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	orders, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		UserID: actor.UserID,
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

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := auth.ActorFromContext(ctx)
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	// Other users' orders are reported as missing rather than forbidden.
	if !actor.Admin && order.UserID != actor.UserID {
		writeServiceError(ctx, w, services.ErrOrderNotFound)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OrderHandlers) requestReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req requestReturnRequest
	if err := httpx.DecodeJSON(r, &req, maxBodySize); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	items := make([]services.ReturnItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.ReturnItemInput{
			ProductID: strings.TrimSpace(item.ProductID),
			VariantID: strings.TrimSpace(item.VariantID),
			Quantity:  item.Quantity,
		})
	}

	result, err := h.returns.RequestReturn(ctx, services.RequestReturnCommand{
		Actor:   auth.ActorFromContext(ctx),
		OrderID: chi.URLParam(r, "orderID"),
		Items:   items,
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"return":            buildReturnPayload(result.Request),
		"order_status":      string(result.Order.Status),
		"order_link_failed": result.OrderLinkFailed,
	})
}
