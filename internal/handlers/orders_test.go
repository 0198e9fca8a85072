package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/idempotency"
	"github.com/hanko-field/storefront/internal/services"
)

func sampleOrder(id, userID string) services.Order {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return services.Order{
		ID:     id,
		UserID: userID,
		Items: []domain.OrderItem{{
			Product:  domain.ProductSnapshot{ID: "p1", Name: "Tee"},
			Variant:  domain.VariantSnapshot{ID: "v1", Size: "M"},
			Quantity: 2,
			Price:    1500,
		}},
		ShippingAddress:   domain.Address{Recipient: "Ada", Line1: "1 Main St", City: "Tokyo", PostalCode: "100-0001"},
		Subtotal:          3000,
		Shipping:          500,
		Total:             3500,
		Status:            domain.OrderStatusProcessing,
		FulfillmentStatus: domain.FulfillmentUnfulfilled,
		InventoryUpdated:  true,
		CreatedAt:         created,
		UpdatedAt:         created,
	}
}

func orderRoutes(orders services.OrderService, returns services.ReturnService, opts ...OrderHandlersOption) RouteRegistrar {
	return NewOrderHandlers(newTestAuthenticator(), orders, returns, opts...).Routes
}

func TestPlaceOrderCreatesOrder(t *testing.T) {
	var got services.PlaceOrderCommand
	orders := &stubOrderService{placeFn: func(_ context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
		got = cmd
		return sampleOrder("ORD-01", cmd.Actor.UserID), nil
	}}
	rr := serve(t, "/orders", orderRoutes(orders, nil), http.MethodPost, "/orders/",
		`{"payment_method":" card ","shipping_address":{"recipient":"Ada","line1":"1 Main St","city":"Tokyo","postal_code":"100-0001"}}`,
		bearer("shopper"))

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "/orders/ORD-01", rr.Header().Get("Location"))
	assert.Equal(t, "u1", got.Actor.UserID)
	assert.Equal(t, "card", got.PaymentMethod)
	require.NotNil(t, got.ShippingAddress)
	assert.Equal(t, "Tokyo", got.ShippingAddress.City)
	assert.Nil(t, got.BillingAddress)

	order := decodeResponse(t, rr)["order"].(map[string]any)
	assert.Equal(t, "Processing", order["status"])
	assert.EqualValues(t, 3500, order["totals"].(map[string]any)["total"])
	assert.Equal(t, "2026-03-01T09:00:00Z", order["created_at"])
}

func TestPlaceOrderRequiresAuthentication(t *testing.T) {
	orders := &stubOrderService{}
	rr := serve(t, "/orders", orderRoutes(orders, nil), http.MethodPost, "/orders/", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestPlaceOrderErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "empty cart", err: services.ErrOrderEmptyCart, status: http.StatusUnprocessableEntity, code: "cart_empty"},
		{name: "missing address", err: services.ErrOrderMissingAddress, status: http.StatusUnprocessableEntity, code: "shipping_address_required"},
		{name: "forbidden", err: services.ErrOrderForbidden, status: http.StatusForbidden, code: "forbidden"},
		{name: "unavailable", err: services.ErrOrderUnavailable, status: http.StatusServiceUnavailable, code: "service_unavailable"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			orders := &stubOrderService{placeFn: func(context.Context, services.PlaceOrderCommand) (services.Order, error) {
				return services.Order{}, tc.err
			}}
			rr := serve(t, "/orders", orderRoutes(orders, nil), http.MethodPost, "/orders/", `{"payment_method":"card"}`, bearer("shopper"))
			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, tc.code, decodeResponse(t, rr)["error"])
		})
	}
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	orders := &stubOrderService{placeFn: func(context.Context, services.PlaceOrderCommand) (services.Order, error) {
		return services.Order{}, &services.InsufficientStockError{Shortfalls: []services.StockShortfall{
			{ProductID: "p1", VariantID: "v1", Requested: 3, Available: 1},
		}}
	}}
	rr := serve(t, "/orders", orderRoutes(orders, nil), http.MethodPost, "/orders/", `{"payment_method":"card"}`, bearer("shopper"))

	require.Equal(t, http.StatusConflict, rr.Code)
	body := decodeResponse(t, rr)
	assert.Equal(t, "insufficient_stock", body["error"])
	shortfalls := body["shortfalls"].([]any)
	require.Len(t, shortfalls, 1)
	assert.EqualValues(t, 1, shortfalls[0].(map[string]any)["available"])
}

func TestPlaceOrderIdempotentReplay(t *testing.T) {
	calls := 0
	orders := &stubOrderService{placeFn: func(_ context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
		calls++
		return sampleOrder("ORD-01", cmd.Actor.UserID), nil
	}}
	mw := idempotency.Middleware(idempotency.NewMemoryStore())
	routes := orderRoutes(orders, nil, WithIdempotency(mw))
	headers := map[string]string{"Authorization": "Bearer shopper", "Idempotency-Key": "checkout-1"}

	first := serve(t, "/orders", routes, http.MethodPost, "/orders/", `{"payment_method":"card"}`, headers)
	second := serve(t, "/orders", routes, http.MethodPost, "/orders/", `{"payment_method":"card"}`, headers)

	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)
}

func TestGetOrderHidesOtherUsersOrders(t *testing.T) {
	orders := &stubOrderService{getFn: func(_ context.Context, id string) (services.Order, error) {
		if id != "ORD-01" {
			return services.Order{}, services.ErrOrderNotFound
		}
		return sampleOrder(id, "u1"), nil
	}}
	routes := orderRoutes(orders, nil)

	rr := serve(t, "/orders", routes, http.MethodGet, "/orders/ORD-01", "", bearer("shopper"))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(t, "/orders", routes, http.MethodGet, "/orders/ORD-01", "", bearer("other"))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(t, "/orders", routes, http.MethodGet, "/orders/ORD-01", "", bearer("admin"))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(t, "/orders", routes, http.MethodGet, "/orders/ORD-99", "", bearer("shopper"))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListOrdersScopesToCaller(t *testing.T) {
	var filter services.OrderListFilter
	orders := &stubOrderService{listFn: func(_ context.Context, f services.OrderListFilter) ([]services.Order, error) {
		filter = f
		return []services.Order{sampleOrder("ORD-02", "u1"), sampleOrder("ORD-01", "u1")}, nil
	}}
	rr := serve(t, "/orders", orderRoutes(orders, nil), http.MethodGet, "/orders/?status=Shipped&page_size=5", "", bearer("shopper"))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, services.OrderListFilter{UserID: "u1", Status: domain.OrderStatusShipped, Limit: 5}, filter)
	assert.Len(t, decodeResponse(t, rr)["orders"], 2)

	rr = serve(t, "/orders", orderRoutes(orders, nil), http.MethodGet, "/orders/?page_size=abc", "", bearer("shopper"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRequestReturn(t *testing.T) {
	var got services.RequestReturnCommand
	returns := &stubReturnService{requestFn: func(_ context.Context, cmd services.RequestReturnCommand) (services.ReturnRequestResult, error) {
		got = cmd
		order := sampleOrder(cmd.OrderID, "u1")
		order.Status = domain.OrderStatusReturnRequested
		return services.ReturnRequestResult{
			Request: services.ReturnRequest{
				ID:      "RET-01",
				OrderID: cmd.OrderID,
				UserID:  "u1",
				Status:  domain.ReturnStatusRequested,
				Items:   []domain.ReturnItem{{ProductID: "p1", VariantID: "v1", Quantity: 1, Price: 1500}},
			},
			Order: order,
		}, nil
	}}
	rr := serve(t, "/orders", orderRoutes(&stubOrderService{}, returns), http.MethodPost, "/orders/ORD-01/returns",
		`{"items":[{"product_id":"p1","variant_id":"v1","quantity":1}],"reason":"too small"}`, bearer("shopper"))

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "ORD-01", got.OrderID)
	assert.Equal(t, []services.ReturnItemInput{{ProductID: "p1", VariantID: "v1", Quantity: 1}}, got.Items)

	body := decodeResponse(t, rr)
	assert.Equal(t, "Return Requested", body["order_status"])
	assert.Equal(t, false, body["order_link_failed"])
	assert.EqualValues(t, 1500, body["return"].(map[string]any)["items_total"])
}

func TestRequestReturnNotReturnable(t *testing.T) {
	returns := &stubReturnService{requestFn: func(context.Context, services.RequestReturnCommand) (services.ReturnRequestResult, error) {
		return services.ReturnRequestResult{}, services.ErrReturnOrderNotReturnable
	}}
	rr := serve(t, "/orders", orderRoutes(&stubOrderService{}, returns), http.MethodPost, "/orders/ORD-01/returns",
		`{"items":[{"product_id":"p1","variant_id":"v1","quantity":1}],"reason":"late"}`, bearer("shopper"))
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "order_not_returnable", decodeResponse(t, rr)["error"])
}
