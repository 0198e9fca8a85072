package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

const readinessTimeout = 3 * time.Second

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	started time.Time
	ping    func(ctx context.Context) error
	clock   func() time.Time
}

// NewHealthHandlers builds probes. ping checks the persistence backend and may be nil.
func NewHealthHandlers(ping func(ctx context.Context) error) *HealthHandlers {
	return &HealthHandlers{started: time.Now(), ping: ping, clock: time.Now}
}

// Healthz reports that the process is serving.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    h.clock().Sub(h.started).Round(time.Second).String(),
		"timestamp": h.clock().UTC().Format(time.RFC3339),
	})
}

// Readyz additionally checks that the repositories answer.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ping != nil {
		pingCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
		defer cancel()
		if err := h.ping(pingCtx); err != nil {
			requestctx.Logger(ctx).Warn("readiness check failed", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("not_ready", "persistence backend unavailable", http.StatusServiceUnavailable))
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
