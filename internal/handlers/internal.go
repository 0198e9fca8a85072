package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
	"github.com/hanko-field/storefront/internal/services"
)

const defaultReconcileLimit = 100

// OutboxDrainer processes one batch of due outbox tasks.
type OutboxDrainer interface {
	Drain(ctx context.Context) (services.DrainReport, error)
}

// InternalHandlers serves scheduler-triggered maintenance endpoints. Authentication is applied by
// the router through OIDC middleware.
type InternalHandlers struct {
	outbox OutboxDrainer
	orders services.OrderService
}

// NewInternalHandlers constructs internal handlers.
func NewInternalHandlers(outbox OutboxDrainer, orders services.OrderService) *InternalHandlers {
	return &InternalHandlers{outbox: outbox, orders: orders}
}

// Routes wires the /internal endpoints onto the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	r.Post("/outbox:drain", h.drainOutbox)
	r.Post("/inventory:reconcile", h.reconcileInventory)
}

func (h *InternalHandlers) drainOutbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.outbox == nil {
		httpx.WriteError(ctx, w, httpx.NewError("outbox_unavailable", "outbox worker is not configured", http.StatusServiceUnavailable))
		return
	}
	report, err := h.outbox.Drain(ctx)
	if err != nil {
		requestctx.Logger(ctx).Error("outbox drain failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("outbox_drain_failed", "failed to drain outbox", http.StatusServiceUnavailable))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

func (h *InternalHandlers) reconcileInventory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := defaultReconcileLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}
	report, err := h.orders.ReconcileInventory(ctx, limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"reconciled": nonNil(report.Reconciled),
		"failed":     nonNil(report.Failed),
		"skipped":    nonNil(report.Skipped),
	})
}
