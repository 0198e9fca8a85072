package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

// Error is the JSON error envelope returned by the storefront API. Details are merged into the
// top level of the body so clients can read fields such as "shortfalls" or "cart" directly.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError constructs an Error. A zero status is treated as 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, 80),
		Message: clean(message, 512),
		Status:  status,
	}
}

// Internal is the envelope for failures whose cause must not reach the client.
func Internal() Error {
	return NewError("internal_server_error", "internal server error", http.StatusInternalServerError)
}

// InvalidRequest reports a malformed or semantically invalid request.
func InvalidRequest(message string) Error {
	return NewError("invalid_request", message, http.StatusBadRequest)
}

// Unauthenticated reports a missing or rejected credential.
func Unauthenticated(message string) Error {
	if strings.TrimSpace(message) == "" {
		message = "authentication required"
	}
	return NewError("unauthenticated", message, http.StatusUnauthorized)
}

// WithDetails returns a copy of e carrying the supplied fields. Reserved envelope keys are ignored.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		if reservedKeys[k] {
			continue
		}
		merged[k] = v
	}
	e.Details = merged
	return e
}

var reservedKeys = map[string]bool{
	"error":      true,
	"message":    true,
	"status":     true,
	"request_id": true,
	"trace_id":   true,
}

// WriteError writes the envelope, stamping the request and trace ids found on ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := make(map[string]any, len(err.Details)+5)
	for k, v := range err.Details {
		payload[k] = v
	}
	payload["error"] = err.Code
	payload["message"] = err.Message
	payload["status"] = status
	if requestID := clean(middleware.GetReqID(ctx), 80); requestID != "" {
		payload["request_id"] = requestID
	}
	if traceID := clean(requestctx.TraceID(ctx), 64); traceID != "" {
		payload["trace_id"] = traceID
	}

	WriteJSON(w, status, payload)
}

func clean(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
