package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/services"
)

type stubVerifier struct{}

func (stubVerifier) VerifyIDToken(_ context.Context, token string) (*firebaseauth.Token, error) {
	switch token {
	case "shopper":
		return &firebaseauth.Token{UID: "u1", Claims: map[string]any{"email": "ada@example.com"}}, nil
	case "other":
		return &firebaseauth.Token{UID: "u2", Claims: map[string]any{"email": "bob@example.com"}}, nil
	case "admin":
		return &firebaseauth.Token{UID: "ops", Claims: map[string]any{"role": "admin", "email": "ops@example.com"}}, nil
	}
	return nil, errors.New("invalid token")
}

func newTestAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(stubVerifier{})
}

type stubCartService struct {
	getFn      func(ctx context.Context, actor services.Actor) (services.Cart, error)
	dispatchFn func(ctx context.Context, actor services.Actor, cmd cart.Command) (services.CartMutation, error)
	addFn      func(ctx context.Context, actor services.Actor, cmd services.AddCartItemCommand) (services.CartMutation, error)
	updateFn   func(ctx context.Context, actor services.Actor, cmd services.UpdateCartItemCommand) (services.CartMutation, error)
	selectFn   func(ctx context.Context, actor services.Actor, code string) (services.CartMutation, error)
	clearFn    func(ctx context.Context, actor services.Actor) error
	methods    []services.ShippingMethod
}

func (s *stubCartService) Get(ctx context.Context, actor services.Actor) (services.Cart, error) {
	if s.getFn == nil {
		return services.Cart{}, nil
	}
	return s.getFn(ctx, actor)
}

func (s *stubCartService) Dispatch(ctx context.Context, actor services.Actor, cmd cart.Command) (services.CartMutation, error) {
	if s.dispatchFn == nil {
		return services.CartMutation{}, errors.New("unexpected dispatch")
	}
	return s.dispatchFn(ctx, actor, cmd)
}

func (s *stubCartService) AddItem(ctx context.Context, actor services.Actor, cmd services.AddCartItemCommand) (services.CartMutation, error) {
	if s.addFn == nil {
		return services.CartMutation{}, errors.New("unexpected add")
	}
	return s.addFn(ctx, actor, cmd)
}

func (s *stubCartService) UpdateQuantity(ctx context.Context, actor services.Actor, cmd services.UpdateCartItemCommand) (services.CartMutation, error) {
	if s.updateFn == nil {
		return services.CartMutation{}, errors.New("unexpected update")
	}
	return s.updateFn(ctx, actor, cmd)
}

func (s *stubCartService) SelectShippingMethod(ctx context.Context, actor services.Actor, code string) (services.CartMutation, error) {
	if s.selectFn == nil {
		return services.CartMutation{}, errors.New("unexpected select")
	}
	return s.selectFn(ctx, actor, code)
}

func (s *stubCartService) Clear(ctx context.Context, actor services.Actor) error {
	if s.clearFn == nil {
		return nil
	}
	return s.clearFn(ctx, actor)
}

func (s *stubCartService) ShippingMethods() []services.ShippingMethod {
	return s.methods
}

type stubOrderService struct {
	placeFn       func(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error)
	getFn         func(ctx context.Context, orderID string) (services.Order, error)
	listFn        func(ctx context.Context, filter services.OrderListFilter) ([]services.Order, error)
	transitionFn  func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error)
	fulfillmentFn func(ctx context.Context, cmd services.FulfillmentUpdateCommand) (services.Order, error)
	reconcileFn   func(ctx context.Context, limit int) (services.InventoryReconcileReport, error)
}

func (s *stubOrderService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
	return s.placeFn(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	return s.getFn(ctx, orderID)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) ([]services.Order, error) {
	return s.listFn(ctx, filter)
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	return s.transitionFn(ctx, cmd)
}

func (s *stubOrderService) UpdateFulfillment(ctx context.Context, cmd services.FulfillmentUpdateCommand) (services.Order, error) {
	return s.fulfillmentFn(ctx, cmd)
}

func (s *stubOrderService) ReconcileInventory(ctx context.Context, limit int) (services.InventoryReconcileReport, error) {
	return s.reconcileFn(ctx, limit)
}

type stubReturnService struct {
	requestFn    func(ctx context.Context, cmd services.RequestReturnCommand) (services.ReturnRequestResult, error)
	transitionFn func(ctx context.Context, cmd services.TransitionReturnCommand) (services.ReturnRequest, error)
	bulkFn       func(ctx context.Context, cmd services.BulkTransitionCommand) (services.BulkTransitionResult, error)
	getFn        func(ctx context.Context, actor services.Actor, returnID string) (services.ReturnRequest, error)
	listFn       func(ctx context.Context, filter services.ReturnListFilter) ([]services.ReturnRequest, error)
}

func (s *stubReturnService) RequestReturn(ctx context.Context, cmd services.RequestReturnCommand) (services.ReturnRequestResult, error) {
	return s.requestFn(ctx, cmd)
}

func (s *stubReturnService) TransitionReturn(ctx context.Context, cmd services.TransitionReturnCommand) (services.ReturnRequest, error) {
	return s.transitionFn(ctx, cmd)
}

func (s *stubReturnService) BulkTransition(ctx context.Context, cmd services.BulkTransitionCommand) (services.BulkTransitionResult, error) {
	return s.bulkFn(ctx, cmd)
}

func (s *stubReturnService) GetReturn(ctx context.Context, actor services.Actor, returnID string) (services.ReturnRequest, error) {
	return s.getFn(ctx, actor, returnID)
}

func (s *stubReturnService) ListReturns(ctx context.Context, filter services.ReturnListFilter) ([]services.ReturnRequest, error) {
	return s.listFn(ctx, filter)
}

// serve mounts registrar under prefix and performs one request.
func serve(t *testing.T, prefix string, registrar RouteRegistrar, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	router.Route(prefix, func(r chi.Router) { registrar(r) })

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}
