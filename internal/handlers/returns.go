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

// ReturnHandlers lets signed-in users read their return requests.
type ReturnHandlers struct {
	authn   *auth.Authenticator
	returns services.ReturnService
}

// NewReturnHandlers constructs return handlers.
func NewReturnHandlers(authn *auth.Authenticator, returns services.ReturnService) *ReturnHandlers {
	return &ReturnHandlers{authn: authn, returns: returns}
}

// Routes wires the /returns endpoints onto the provided router.
func (h *ReturnHandlers) Routes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
		r.Use(observability.IdentityCapture())
	}
	r.Get("/", h.listReturns)
	r.Get("/{returnID}", h.getReturn)
}

func (h *ReturnHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
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
	query := r.URL.Query()
	requests, err := h.returns.ListReturns(ctx, services.ReturnListFilter{
		UserID:  actor.UserID,
		OrderID: strings.TrimSpace(query.Get("order_id")),
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

func (h *ReturnHandlers) getReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	request, err := h.returns.GetReturn(ctx, auth.ActorFromContext(ctx), chi.URLParam(r, "returnID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"return": buildReturnPayload(request)})
}
