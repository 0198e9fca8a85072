package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
	"github.com/hanko-field/storefront/internal/repositories/memory"
)

type countingInventory struct {
	mu    sync.Mutex
	calls [][]ConsumptionItem
	next  InventoryService
	err   error
}

func (c *countingInventory) ApplyOrderConsumption(ctx context.Context, items []ConsumptionItem) (ConsumptionReport, error) {
	c.mu.Lock()
	c.calls = append(c.calls, items)
	c.mu.Unlock()
	if c.err != nil {
		return ConsumptionReport{}, c.err
	}
	return c.next.ApplyOrderConsumption(ctx, items)
}

// flakyStock fails SetStock once for the listed variant.
type flakyStock struct {
	repositories.InventoryRepository
	mu     sync.Mutex
	failOn map[string]bool
}

func (f *flakyStock) SetStock(ctx context.Context, productID, variantID string, stock int, updatedAt time.Time) error {
	f.mu.Lock()
	fail := f.failOn[variantID]
	delete(f.failOn, variantID)
	f.mu.Unlock()
	if fail {
		return errors.New("stock write timed out")
	}
	return f.InventoryRepository.SetStock(ctx, productID, variantID, stock, updatedAt)
}

type commerceFixture struct {
	registry      *memory.Registry
	carts         CartService
	orders        OrderService
	returns       ReturnService
	inventory     *countingInventory
	transport     *stubTransport
	notifications *NotificationDispatcher
	stream        *EventStream
	now           time.Time
}

var testShippingAddress = domain.Address{Recipient: "Ada", Line1: "1-2-3 Shibuya", City: "Tokyo", PostalCode: "150-0002", Country: "JP"}

func newCommerceFixture(t *testing.T) *commerceFixture {
	t.Helper()
	fx := &commerceFixture{
		registry:  memory.NewRegistry(),
		transport: &stubTransport{failTo: map[string]bool{}},
		stream:    NewEventStream(64, nil),
		now:       time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return fx.now }
	fx.registry.CatalogStore().Put(domain.ProductVariant{ID: "v1", ProductID: "p1", ProductName: "Tee", SKU: "TEE-M", Size: "M", Color: "navy", Stock: 10, Price: 500})

	bus, err := NewEventBus(EventBusDeps{Stream: fx.stream})
	require.NoError(t, err)

	counters, err := NewCounterService(CounterServiceDeps{Repository: fx.registry.Counters(), Clock: clock, Sleep: noSleep})
	require.NoError(t, err)

	inv, err := NewInventoryService(InventoryServiceDeps{Inventory: fx.registry.Inventory(), Clock: clock})
	require.NoError(t, err)
	fx.inventory = &countingInventory{next: inv}

	fx.notifications, err = NewNotificationService(NotificationServiceDeps{Transport: fx.transport, Clock: clock})
	require.NoError(t, err)

	fx.carts, err = NewCartService(CartServiceDeps{
		Local:   fx.registry.Carts(),
		Catalog: fx.registry.Catalog(),
		Events:  bus,
		ShippingMethods: []ShippingMethod{
			{Code: "free", Label: "Free", Price: 0},
			{Code: "express", Label: "Express", Price: 800},
		},
		Clock: clock,
	})
	require.NoError(t, err)

	fx.orders, err = NewOrderService(OrderServiceDeps{
		Orders:        fx.registry.Orders(),
		Customers:     fx.registry.Customers(),
		Catalog:       fx.registry.Catalog(),
		Carts:         fx.carts,
		Counters:      counters,
		Inventory:     fx.inventory,
		Notifications: fx.notifications,
		Events:        bus,
		Clock:         clock,
	})
	require.NoError(t, err)

	fx.returns, err = NewReturnService(ReturnServiceDeps{
		Returns:       fx.registry.Returns(),
		Orders:        fx.registry.Orders(),
		Counters:      counters,
		Notifications: fx.notifications,
		Events:        bus,
		Clock:         clock,
	})
	require.NoError(t, err)
	return fx
}

func (fx *commerceFixture) fillCart(t *testing.T, actor Actor, quantity int) {
	t.Helper()
	ctx := context.Background()
	_, err := fx.carts.AddItem(ctx, actor, AddCartItemCommand{ProductID: "p1", VariantID: "v1", Quantity: quantity})
	require.NoError(t, err)
	_, err = fx.carts.SelectShippingMethod(ctx, actor, "free")
	require.NoError(t, err)
	_, err = fx.carts.Dispatch(ctx, actor, cart.SetShippingAddress{Address: testShippingAddress})
	require.NoError(t, err)
}

func shopper() Actor {
	return Actor{UserID: "u1", Email: "ada@example.com", DisplayName: "Ada", Locale: "en"}
}

func TestPlaceOrderHappyPath(t *testing.T) {
	fx := newCommerceFixture(t)
	ctx := context.Background()
	actor := shopper()
	fx.fillCart(t, actor, 2)

	order, err := fx.orders.PlaceOrder(ctx, PlaceOrderCommand{Actor: actor, PaymentMethod: "card"})
	require.NoError(t, err)

	assert.Equal(t, "ORD-01", order.ID)
	assert.Equal(t, int64(1000), order.Subtotal)
	assert.Equal(t, int64(0), order.Shipping)
	assert.Equal(t, int64(1000), order.Total)
	assert.Equal(t, domain.OrderStatusProcessing, order.Status)
	assert.True(t, order.InventoryUpdated)
	assert.Equal(t, domain.NotificationSent, order.LastNotificationStatus)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "TEE-M", order.Items[0].Product.SKU)

	stock, err := fx.registry.Inventory().GetStock(ctx, "p1", "v1")
	require.NoError(t, err)
	assert.Equal(t, 8, stock)

	current, err := fx.carts.Get(ctx, actor)
	require.NoError(t, err)
	assert.True(t, current.Empty())

	stored, err := fx.registry.Orders().FindByID(ctx, "ORD-01")
	require.NoError(t, err)
	assert.True(t, stored.InventoryUpdated)

	saved, err := fx.registry.Customers().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", saved.Email)
	assert.Equal(t, []string{"ada@example.com"}, fx.transport.sentTo())
}

func TestPlaceOrderConsumesInventoryOnce(t *testing.T) {
	fx := newCommerceFixture(t)
	actor := shopper()
	fx.fillCart(t, actor, 2)

	_, err := fx.orders.PlaceOrder(context.Background(), PlaceOrderCommand{Actor: actor, PaymentMethod: "card"})
	require.NoError(t, err)
	require.Len(t, fx.inventory.calls, 1)
	assert.Equal(t, []ConsumptionItem{{ProductID: "p1", VariantID: "v1", Quantity: 2}}, fx.inventory.calls[0])

	report, err := fx.orders.ReconcileInventory(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, report.Reconciled)
	assert.Len(t, fx.inventory.calls, 1, "reconciliation skips orders already applied")
}

func TestPlaceOrderInsufficientStockCreatesNoOrder(t *testing.T) {
	fx := newCommerceFixture(t)
	ctx := context.Background()
	actor := shopper()
	fx.fillCart(t, actor, 2)
	require.NoError(t, fx.registry.Inventory().SetStock(ctx, "p1", "v1", 1, fx.now))

	_, err := fx.orders.PlaceOrder(ctx, PlaceOrderCommand{Actor: actor, PaymentMethod: "card"})
	require.ErrorIs(t, err, ErrOrderInsufficientStock)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, []StockShortfall{{ProductID: "p1", VariantID: "v1", Requested: 2, Available: 1}}, stockErr.Shortfalls)

	orders, err := fx.registry.Orders().List(ctx, repositories.OrderListFilter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, fx.inventory.calls)

	current, _ := fx.carts.Get(ctx, actor)
	assert.False(t, current.Empty(), "cart survives a rejected placement")
}

func TestPlaceOrderValidation(t *testing.T) {
	fx := newCommerceFixture(t)
	ctx := context.Background()

	_, err := fx.orders.PlaceOrder(ctx, PlaceOrderCommand{Actor: Actor{SessionID: "guest"}, PaymentMethod: "card"})
	assert.ErrorIs(t, err, ErrOrderUnauthenticated)

	admin := shopper()
	admin.Admin = true
	_, err = fx.orders.PlaceOrder(ctx, PlaceOrderCommand{Actor: admin, PaymentMethod: "card"})
	assert.ErrorIs(t, err, ErrOrderForbidden)

	_, err = fx.orders.PlaceOrder(ctx, PlaceOrderCommand{Actor: shopper(), PaymentMethod: "card"})
	assert.ErrorIs(t, err, ErrOrderEmptyCart)

	_, err = fx.orders.PlaceOrder(ctx, PlaceOrderCommand{Actor: shopper()})
	assert.ErrorIs(t, err, ErrOrderInvalidInput)

	_, err = fx.carts.AddItem(ctx, shopper(), AddCartItemCommand{ProductID: "p1", VariantID: "v1", Quantity: 1})
	require.NoError(t, err)
	_, err = fx.orders.PlaceOrder(ctx, PlaceOrderCommand{Actor: shopper(), PaymentMethod: "card"})
	assert.ErrorIs(t, err, ErrOrderMissingAddress)
}

func TestPlaceOrderInventoryFailureKeepsOrder(t *testing.T) {
	fx := newCommerceFixture(t)
	ctx := context.Background()
	actor := shopper()
	fx.fillCart(t, actor, 1)
	fx.inventory.err = errors.New("stock store offline")
	sub := fx.stream.Subscribe(EventOrderInventoryFail)
	defer sub.Unsubscribe()

	order, err := fx.orders.PlaceOrder(ctx, PlaceOrderCommand{Actor: actor, PaymentMethod: "card"})
	require.NoError(t, err)
	assert.False(t, order.InventoryUpdated)
	assert.Len(t, sub.Events(), 1)

	current, _ := fx.carts.Get(ctx, actor)
	assert.True(t, current.Empty(), "cart is cleared once the order exists")

	fx.inventory.err = nil
	report, err := fx.orders.ReconcileInventory(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{order.ID}, report.Reconciled)

	stored, err := fx.registry.Orders().FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, stored.InventoryUpdated)
	stock, _ := fx.registry.Inventory().GetStock(ctx, "p1", "v1")
	assert.Equal(t, 9, stock)
}

func TestReconcileInventorySkipsLinesAlreadyConsumed(t *testing.T) {
	fx := newCommerceFixture(t)
	ctx := context.Background()
	actor := shopper()
	fx.registry.CatalogStore().Put(domain.ProductVariant{ID: "v2", ProductID: "p1", ProductName: "Tee", SKU: "TEE-L", Size: "L", Color: "navy", Stock: 10, Price: 500})

	flaky := &flakyStock{InventoryRepository: fx.registry.Inventory(), failOn: map[string]bool{"v2": true}}
	inv, err := NewInventoryService(InventoryServiceDeps{Inventory: flaky, Clock: func() time.Time { return fx.now }})
	require.NoError(t, err)
	fx.inventory.next = inv

	fx.fillCart(t, actor, 2)
	_, err = fx.carts.AddItem(ctx, actor, AddCartItemCommand{ProductID: "p1", VariantID: "v2", Quantity: 2})
	require.NoError(t, err)

	order, err := fx.orders.PlaceOrder(ctx, PlaceOrderCommand{Actor: actor, PaymentMethod: "card"})
	require.NoError(t, err)
	assert.False(t, order.InventoryUpdated)

	stored, err := fx.registry.Orders().FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1/v1"}, stored.ConsumedLines)

	stock := func(variantID string) int {
		value, err := fx.registry.Inventory().GetStock(ctx, "p1", variantID)
		require.NoError(t, err)
		return value
	}
	assert.Equal(t, 8, stock("v1"))
	assert.Equal(t, 10, stock("v2"))

	report, err := fx.orders.ReconcileInventory(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{order.ID}, report.Reconciled)
	assert.Equal(t, 8, stock("v1"))
	assert.Equal(t, 8, stock("v2"))
	require.Len(t, fx.inventory.calls, 2)
	assert.Equal(t, []ConsumptionItem{{ProductID: "p1", VariantID: "v2", Quantity: 2}}, fx.inventory.calls[1])

	stored, err = fx.registry.Orders().FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, stored.InventoryUpdated)
	assert.ElementsMatch(t, []string{"p1/v1", "p1/v2"}, stored.ConsumedLines)

	report, err = fx.orders.ReconcileInventory(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, report.Reconciled)
	assert.Equal(t, 8, stock("v1"))
}

func TestPlaceOrderNotificationFailureIsRecorded(t *testing.T) {
	fx := newCommerceFixture(t)
	actor := shopper()
	fx.transport.failTo[actor.Email] = true
	fx.fillCart(t, actor, 1)

	order, err := fx.orders.PlaceOrder(context.Background(), PlaceOrderCommand{Actor: actor, PaymentMethod: "card"})
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationFailed, order.LastNotificationStatus)
	assert.Equal(t, domain.OrderStatusProcessing, order.Status)
}

// drainingOutbox runs the handler before Enqueue returns, like a worker that
// claims the task the moment it is committed.
type drainingOutbox struct {
	handler OutboxHandler
	errs    []error
}

func (o *drainingOutbox) Enqueue(ctx context.Context, kind, key string, payload any) (OutboxTask, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return OutboxTask{}, err
	}
	task := OutboxTask{ID: key, Kind: kind, Key: key, Payload: raw}
	o.errs = append(o.errs, o.handler(ctx, task))
	return task, nil
}

func TestNotificationRetryIsNotOverwrittenByFailureMarker(t *testing.T) {
	fx := newCommerceFixture(t)
	ctx := context.Background()
	clock := func() time.Time { return fx.now }

	marker, err := NewRecordMarker(RecordMarkerDeps{Orders: fx.registry.Orders(), Returns: fx.registry.Returns(), Clock: clock})
	require.NoError(t, err)

	down := true
	transport := &stubTransport{sendFn: func(context.Context, string, string, string) error {
		if down {
			return errTransportRefused
		}
		return nil
	}}
	outbox := &drainingOutbox{}
	notifier, err := NewNotificationService(NotificationServiceDeps{Transport: transport, Outbox: outbox, Marker: marker, Clock: clock})
	require.NoError(t, err)
	retry := notifier.RetryHandler()
	outbox.handler = func(ctx context.Context, task OutboxTask) error {
		down = false
		defer func() { down = true }()
		return retry(ctx, task)
	}

	counters, err := NewCounterService(CounterServiceDeps{Repository: fx.registry.Counters(), Clock: clock, Sleep: noSleep})
	require.NoError(t, err)
	orders, err := NewOrderService(OrderServiceDeps{
		Orders:        fx.registry.Orders(),
		Customers:     fx.registry.Customers(),
		Catalog:       fx.registry.Catalog(),
		Carts:         fx.carts,
		Counters:      counters,
		Inventory:     fx.inventory,
		Notifications: notifier,
		Clock:         clock,
	})
	require.NoError(t, err)

	actor := shopper()
	fx.fillCart(t, actor, 1)
	order, err := orders.PlaceOrder(ctx, PlaceOrderCommand{Actor: actor, PaymentMethod: "card"})
	require.NoError(t, err)
	require.Len(t, outbox.errs, 1)
	require.NoError(t, outbox.errs[0])

	stored, err := fx.registry.Orders().FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationSent, stored.LastNotificationStatus)

	staff := Actor{UserID: "staff", Admin: true}
	_, err = orders.TransitionStatus(ctx, OrderStatusTransitionCommand{Actor: staff, OrderID: order.ID, Status: domain.OrderStatusShipped})
	require.NoError(t, err)
	require.Len(t, outbox.errs, 2)

	stored, err = fx.registry.Orders().FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationSent, stored.LastNotificationStatus)
}

func TestOrderTransitions(t *testing.T) {
	fx := newCommerceFixture(t)
	ctx := context.Background()
	actor := shopper()
	fx.fillCart(t, actor, 1)
	order, err := fx.orders.PlaceOrder(ctx, PlaceOrderCommand{Actor: actor, PaymentMethod: "card"})
	require.NoError(t, err)

	staff := Actor{UserID: "staff", Admin: true}

	_, err = fx.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{Actor: actor, OrderID: order.ID, Status: domain.OrderStatusShipped})
	assert.ErrorIs(t, err, ErrOrderForbidden)

	shipped, err := fx.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{Actor: staff, OrderID: order.ID, Status: domain.OrderStatusShipped, TrackingNumber: "JP123"})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusShipped, shipped.Status)
	assert.Equal(t, "JP123", shipped.TrackingNumber)
	require.NotNil(t, shipped.ShippedAt)

	delivered, err := fx.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{Actor: staff, OrderID: order.ID, Status: domain.OrderStatusDelivered})
	require.NoError(t, err)
	assert.Equal(t, domain.FulfillmentDelivered, delivered.FulfillmentStatus)

	_, err = fx.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{Actor: staff, OrderID: order.ID, Status: domain.OrderStatusProcessing})
	assert.ErrorIs(t, err, ErrOrderInvalidTransition)

	_, err = fx.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{Actor: staff, OrderID: "ORD-99", Status: domain.OrderStatusShipped})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = fx.orders.UpdateFulfillment(ctx, FulfillmentUpdateCommand{Actor: staff, OrderID: order.ID, Status: "Lost"})
	assert.ErrorIs(t, err, ErrOrderInvalidInput)
}

func TestListOrdersFiltersByUser(t *testing.T) {
	fx := newCommerceFixture(t)
	ctx := context.Background()
	actor := shopper()
	fx.fillCart(t, actor, 1)
	_, err := fx.orders.PlaceOrder(ctx, PlaceOrderCommand{Actor: actor, PaymentMethod: "card"})
	require.NoError(t, err)

	mine, err := fx.orders.ListOrders(ctx, OrderListFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	others, err := fx.orders.ListOrders(ctx, OrderListFilter{UserID: "u2"})
	require.NoError(t, err)
	assert.Empty(t, others)

	_, err = fx.orders.ListOrders(ctx, OrderListFilter{Status: "Lost"})
	assert.ErrorIs(t, err, ErrOrderInvalidInput)
}
