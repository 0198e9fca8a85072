package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/services"
)

// CartHandlers exposes the cart of the signed-in user or the guest session named by X-Cart-Session.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs cart handlers. Authentication is optional on these routes.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{authn: authn, carts: carts}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
		r.Use(observability.IdentityCapture())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Get("/shipping-methods", h.listShippingMethods)
	r.Post("/items", h.addItem)
	r.Patch("/items/{productID}/{variantID}", h.updateItem)
	r.Delete("/items/{productID}/{variantID}", h.removeItem)
	r.Put("/shipping-address", h.setShippingAddress)
	r.Put("/billing-address", h.setBillingAddress)
	r.Put("/shipping-method", h.selectShippingMethod)
}

type addCartItemRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type selectShippingMethodRequest struct {
	Code string `json:"code"`
}

type cartMutationResponse struct {
	Cart    cartPayload `json:"cart"`
	Changed bool        `json:"changed"`
	Clamped bool        `json:"clamped,omitempty"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := auth.ActorFromContext(ctx)
	if actor.CartKey() == "" {
		httpx.WriteError(ctx, w, httpx.NewError("cart_session_required", "sign in or send "+auth.CartSessionHeader, http.StatusBadRequest))
		return
	}
	current, err := h.carts.Get(ctx, actor)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", noStoreDirective)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"cart": buildCartPayload(actor.CartKey(), current)})
}

func (h *CartHandlers) listShippingMethods(w http.ResponseWriter, _ *http.Request) {
	methods := h.carts.ShippingMethods()
	out := make([]shippingMethodPayload, 0, len(methods))
	for _, m := range methods {
		out = append(out, shippingMethodPayload(m))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"shipping_methods": out})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	var req addCartItemRequest
	if err := httpx.DecodeJSON(r, &req, maxBodySize); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	h.respond(w, r, func(actor services.Actor) (services.CartMutation, error) {
		return h.carts.AddItem(r.Context(), actor, services.AddCartItemCommand{
			ProductID: strings.TrimSpace(req.ProductID),
			VariantID: strings.TrimSpace(req.VariantID),
			Quantity:  req.Quantity,
		})
	})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	var req updateCartItemRequest
	if err := httpx.DecodeJSON(r, &req, maxBodySize); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	h.respond(w, r, func(actor services.Actor) (services.CartMutation, error) {
		return h.carts.UpdateQuantity(r.Context(), actor, services.UpdateCartItemCommand{
			ProductID: chi.URLParam(r, "productID"),
			VariantID: chi.URLParam(r, "variantID"),
			Quantity:  req.Quantity,
		})
	})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, func(actor services.Actor) (services.CartMutation, error) {
		return h.carts.Dispatch(r.Context(), actor, cart.RemoveItem{
			ProductID: chi.URLParam(r, "productID"),
			VariantID: chi.URLParam(r, "variantID"),
		})
	})
}

func (h *CartHandlers) setShippingAddress(w http.ResponseWriter, r *http.Request) {
	var req addressPayload
	if err := httpx.DecodeJSON(r, &req, maxBodySize); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	h.respond(w, r, func(actor services.Actor) (services.CartMutation, error) {
		return h.carts.Dispatch(r.Context(), actor, cart.SetShippingAddress{Address: *req.toDomain()})
	})
}

func (h *CartHandlers) setBillingAddress(w http.ResponseWriter, r *http.Request) {
	var req addressPayload
	if err := httpx.DecodeJSON(r, &req, maxBodySize); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	h.respond(w, r, func(actor services.Actor) (services.CartMutation, error) {
		return h.carts.Dispatch(r.Context(), actor, cart.SetBillingAddress{Address: *req.toDomain()})
	})
}

func (h *CartHandlers) selectShippingMethod(w http.ResponseWriter, r *http.Request) {
	var req selectShippingMethodRequest
	if err := httpx.DecodeJSON(r, &req, maxBodySize); err != nil {
		writeBodyError(r.Context(), w, err)
		return
	}
	h.respond(w, r, func(actor services.Actor) (services.CartMutation, error) {
		return h.carts.SelectShippingMethod(r.Context(), actor, req.Code)
	})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := auth.ActorFromContext(ctx)
	if err := h.carts.Clear(ctx, actor); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respond runs a cart mutation for the request actor. A rejected quantity update still returns the
// unchanged cart alongside the error so clients can redraw it.
func (h *CartHandlers) respond(w http.ResponseWriter, r *http.Request, mutate func(services.Actor) (services.CartMutation, error)) {
	ctx := r.Context()
	actor := auth.ActorFromContext(ctx)
	mutation, err := mutate(actor)
	if err != nil {
		if errors.Is(err, cart.ErrQuantityExceedsStock) {
			httpx.WriteError(ctx, w, httpx.NewError("quantity_exceeds_stock", err.Error(), http.StatusConflict).
				WithDetails(map[string]any{"cart": buildCartPayload(actor.CartKey(), mutation.Cart)}))
			return
		}
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", noStoreDirective)
	httpx.WriteJSON(w, http.StatusOK, cartMutationResponse{
		Cart:    buildCartPayload(actor.CartKey(), mutation.Cart),
		Changed: mutation.Outcome.Changed,
		Clamped: mutation.Outcome.Clamped,
	})
}
