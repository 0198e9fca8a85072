package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
	"github.com/hanko-field/storefront/internal/services"
)

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, httpx.ErrBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.InvalidRequest(err.Error()))
}

func writeUnauthenticated(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.Unauthenticated(""))
}

// writeServiceError maps service sentinel errors onto HTTP responses. Unknown errors are logged
// and reported as 500 without leaking the cause.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var shortage *services.InsufficientStockError
	switch {
	case errors.As(err, &shortage):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "one or more items exceed available stock", http.StatusConflict).
			WithDetails(map[string]any{"shortfalls": buildStockShortfalls(shortage)}))

	case errors.Is(err, cart.ErrQuantityExceedsStock):
		httpx.WriteError(ctx, w, httpx.NewError("quantity_exceeds_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCartVariantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("variant_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrCartInvalidInput),
		errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrReturnInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))

	case errors.Is(err, services.ErrOrderUnauthenticated), errors.Is(err, services.ErrReturnUnauthenticated):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", err.Error(), http.StatusUnauthorized))
	case errors.Is(err, services.ErrOrderForbidden), errors.Is(err, services.ErrReturnForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))

	case errors.Is(err, services.ErrOrderEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderMissingAddress):
		httpx.WriteError(ctx, w, httpx.NewError("shipping_address_required", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrReturnOrderNotReturnable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_returnable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidTransition), errors.Is(err, services.ErrReturnInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))

	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrReturnOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReturnNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("return_not_found", "return request not found", http.StatusNotFound))

	case errors.Is(err, services.ErrCartUnavailable),
		errors.Is(err, services.ErrOrderUnavailable),
		errors.Is(err, services.ErrReturnUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "service temporarily unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("deadline_exceeded", "request timed out", http.StatusGatewayTimeout))

	default:
		requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.Internal())
	}
}
