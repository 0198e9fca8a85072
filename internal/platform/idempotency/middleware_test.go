package idempotency

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/storefront/internal/platform/auth"
)

var fixedTime = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedTime }

func postOrder(key, body string, identity *auth.Identity) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(DefaultHeader, key)
	}
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	return req
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"id":"ORD-01"}`))
	})
}

func TestMiddlewareReplaysCompletedResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(clock))(countingHandler(&calls, http.StatusCreated))
	shopper := &auth.Identity{UID: "u1"}

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, postOrder("key-1", `{"paymentMethod":"card"}`, shopper))
	require.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, postOrder("key-1", `{"paymentMethod":"card"}`, shopper))

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(replayHeader))
	assert.JSONEq(t, `{"id":"ORD-01"}`, second.Body.String())
}

func TestMiddlewareScopesKeysPerCaller(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(clock))(countingHandler(&calls, http.StatusCreated))

	handler.ServeHTTP(httptest.NewRecorder(), postOrder("shared", `{}`, &auth.Identity{UID: "u1"}))
	handler.ServeHTTP(httptest.NewRecorder(), postOrder("shared", `{}`, &auth.Identity{UID: "u2"}))

	assert.Equal(t, 2, calls)
}

func TestMiddlewareRejectsReusedKeyWithDifferentBody(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(clock))(countingHandler(&calls, http.StatusCreated))
	shopper := &auth.Identity{UID: "u1"}

	handler.ServeHTTP(httptest.NewRecorder(), postOrder("key-1", `{"paymentMethod":"card"}`, shopper))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, postOrder("key-1", `{"paymentMethod":"cash"}`, shopper))

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), `"idempotency_key_conflict"`)
}

func TestMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(clock))(countingHandler(&calls, http.StatusServiceUnavailable))

	handler.ServeHTTP(httptest.NewRecorder(), postOrder("key-1", `{}`, nil))
	handler.ServeHTTP(httptest.NewRecorder(), postOrder("key-1", `{}`, nil))

	assert.Equal(t, 2, calls)
}

func TestMiddlewarePendingKeyConflicts(t *testing.T) {
	store := NewMemoryStore()
	shopper := &auth.Identity{UID: "u1"}
	req := postOrder("key-1", `{}`, shopper)

	_, err := store.Reserve(context.Background(), "key-1|user:u1", requestFingerprint(req, []byte(`{}`), "user:u1"), fixedTime, time.Hour)
	require.NoError(t, err)

	var calls int
	rr := httptest.NewRecorder()
	Middleware(store, WithClock(clock))(countingHandler(&calls, http.StatusCreated)).ServeHTTP(rr, req)

	assert.Equal(t, 0, calls)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestMiddlewareKeyOptionality(t *testing.T) {
	var calls int
	optional := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))
	rr := httptest.NewRecorder()
	optional.ServeHTTP(rr, postOrder("", `{}`, nil))
	assert.Equal(t, http.StatusCreated, rr.Code)

	required := Middleware(NewMemoryStore(), WithRequiredKey())(countingHandler(&calls, http.StatusCreated))
	rr = httptest.NewRecorder()
	required.ServeHTTP(rr, postOrder("", `{}`, nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, 1, calls)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SaveResponse(ctx, "k", "fp", Response{Status: http.StatusCreated}, fixedTime, time.Minute))
	reservation, err := store.Reserve(ctx, "k", "other", fixedTime.Add(2*time.Minute), time.Minute)
	require.NoError(t, err, "expired records are replaced regardless of fingerprint")
	assert.Equal(t, ReservationStateNew, reservation.State)

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(10*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
