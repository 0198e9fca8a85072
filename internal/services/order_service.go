package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the request is malformed.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderUnauthenticated indicates checkout was attempted without a signed-in user.
	ErrOrderUnauthenticated = errors.New("order: sign in to place an order")
	// ErrOrderForbidden indicates the actor may not perform the operation.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderEmptyCart indicates checkout was attempted with no items.
	ErrOrderEmptyCart = errors.New("order: cart is empty")
	// ErrOrderMissingAddress indicates no shipping address was supplied.
	ErrOrderMissingAddress = errors.New("order: shipping address is required")
	// ErrOrderInsufficientStock indicates at least one line exceeds current stock.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderNotFound indicates the order does not exist or is not visible to the actor.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the status graph has no such edge.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderUnavailable indicates a store failed before the order was persisted.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

const (
	defaultOrderListLimit = 50
	orderInsertAttempts   = 3
)

// StockShortfall names a line whose requested quantity exceeds stock.
type StockShortfall struct {
	ProductID string
	VariantID string
	Requested int
	Available int
}

// InsufficientStockError lists every short line. It matches ErrOrderInsufficientStock.
type InsufficientStockError struct {
	Shortfalls []StockShortfall
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("%s/%s requested %d, %d left", s.ProductID, s.VariantID, s.Requested, s.Available))
	}
	return fmt.Sprintf("%s: %s", ErrOrderInsufficientStock.Error(), strings.Join(parts, "; "))
}

func (e *InsufficientStockError) Unwrap() error { return ErrOrderInsufficientStock }

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Customers     repositories.CustomerRepository
	Catalog       repositories.CatalogRepository
	Carts         CartService
	Counters      CounterService
	Inventory     InventoryService
	Notifications NotificationService
	Events        EventPublisher
	Pricing       domain.PricingPolicy
	Clock         func() time.Time
	IDGen         func() string
	Logger        Logger
	Metrics       Metrics
}

type orderService struct {
	orders        repositories.OrderRepository
	customers     repositories.CustomerRepository
	catalog       repositories.CatalogRepository
	carts         CartService
	counters      CounterService
	inventory     InventoryService
	notifications NotificationService
	events        EventPublisher
	pricing       domain.PricingPolicy
	clock         func() time.Time
	newID         func() string
	logger        Logger
	metrics       Metrics
}

// NewOrderService constructs the order manager.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Customers == nil:
		return nil, errors.New("order service: customer repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("order service: catalog repository is required")
	case deps.Carts == nil:
		return nil, errors.New("order service: cart service is required")
	case deps.Counters == nil:
		return nil, errors.New("order service: counter service is required")
	case deps.Inventory == nil:
		return nil, errors.New("order service: inventory service is required")
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &orderService{
		orders:        deps.Orders,
		customers:     deps.Customers,
		catalog:       deps.Catalog,
		carts:         deps.Carts,
		counters:      deps.Counters,
		inventory:     deps.Inventory,
		notifications: deps.Notifications,
		events:        deps.Events,
		pricing:       deps.Pricing,
		clock:         utcClock(deps.Clock),
		newID:         idGen,
		logger:        loggerOrNoop(deps.Logger),
		metrics:       metricsOrNoop(deps.Metrics),
	}, nil
}

// PlaceOrder converts the cart into an order. Validation failures leave no
// trace. Once the order is stored, inventory and notification failures are
// recorded on the order instead of failing the call.
func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	actor := cmd.Actor
	if !actor.Authenticated() {
		s.metrics.OrderRejected("unauthenticated")
		return Order{}, ErrOrderUnauthenticated
	}
	if actor.Admin {
		s.metrics.OrderRejected("admin")
		return Order{}, fmt.Errorf("%w: administrators cannot place orders", ErrOrderForbidden)
	}
	paymentMethod := strings.TrimSpace(cmd.PaymentMethod)
	if paymentMethod == "" {
		s.metrics.OrderRejected("invalid")
		return Order{}, fmt.Errorf("%w: payment method is required", ErrOrderInvalidInput)
	}

	var current Cart
	if cmd.Cart != nil {
		current = cmd.Cart.Clone()
	} else {
		loaded, err := s.carts.Get(ctx, actor)
		if err != nil {
			return Order{}, fmt.Errorf("%w: load cart: %v", ErrOrderUnavailable, err)
		}
		current = loaded
	}
	if current.Empty() {
		s.metrics.OrderRejected("empty_cart")
		return Order{}, ErrOrderEmptyCart
	}

	shipping := firstAddress(cmd.ShippingAddress, current.ShippingAddress)
	if shipping == nil {
		s.metrics.OrderRejected("missing_address")
		return Order{}, ErrOrderMissingAddress
	}
	billing := firstAddress(cmd.BillingAddress, current.BillingAddress, shipping)

	variants, err := s.checkStock(ctx, current.Items)
	if err != nil {
		if errors.Is(err, ErrOrderInsufficientStock) {
			s.metrics.OrderRejected("insufficient_stock")
		}
		return Order{}, err
	}

	now := s.clock()
	if _, err := s.customers.Upsert(ctx, Customer{
		ID:              actor.UserID,
		Email:           actor.Email,
		DisplayName:     actor.DisplayName,
		Locale:          actor.Locale,
		ShippingAddress: shipping,
		UpdatedAt:       now,
	}); err != nil {
		return Order{}, fmt.Errorf("%w: save customer: %v", ErrOrderUnavailable, err)
	}

	totals := s.pricing.ComputeTotals(current.Items, current.ShippingMethod, current.Discount)
	order := Order{
		UserID: actor.UserID,
		Customer: domain.OrderCustomer{
			ID:          actor.UserID,
			Email:       actor.Email,
			DisplayName: actor.DisplayName,
		},
		Items:             buildOrderItems(current.Items, variants),
		ShippingAddress:   *shipping,
		BillingAddress:    *billing,
		Subtotal:          totals.Subtotal,
		Discount:          totals.Discount,
		Shipping:          totals.Shipping,
		Total:             totals.Total,
		Status:            domain.OrderStatusProcessing,
		FulfillmentStatus: domain.FulfillmentUnfulfilled,
		PaymentMethod:     paymentMethod,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.insertWithSequence(ctx, &order); err != nil {
		return Order{}, err
	}

	// The order exists from here on; nothing below fails the call.
	consumed, err := s.inventory.ApplyOrderConsumption(ctx, order.ConsumptionItems())
	dirty := recordConsumption(&order, consumed)
	if err != nil {
		s.logger(ctx, "order_inventory_failed", map[string]any{
			"orderId": order.ID,
			"applied": len(consumed.Adjusted),
			"error":   err.Error(),
		})
		s.publish(ctx, EventOrderInventoryFail, order.ID, actor.UserID, map[string]any{"error": err.Error()})
	} else {
		order.InventoryUpdated = true
		dirty = true
	}

	if err := s.carts.Clear(ctx, actor); err != nil {
		s.logger(ctx, "order_cart_clear_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
	}

	placed := NotificationEvent{
		Kind:       NotificationOrderPlaced,
		To:         order.Customer.Email,
		Locale:     actor.Locale,
		OrderID:    order.ID,
		Status:     string(order.Status),
		Total:      order.Total,
		OccurredAt: now,
	}
	if status, notified := s.notify(ctx, placed); notified {
		order.LastNotificationStatus = status
		dirty = true
	}

	if dirty {
		order.UpdatedAt = s.clock()
		if err := s.orders.Update(ctx, order); err != nil {
			s.logger(ctx, "order_flags_update_failed", map[string]any{
				"orderId":          order.ID,
				"inventoryUpdated": order.InventoryUpdated,
				"error":            err.Error(),
			})
		}
	}
	s.retryNotification(ctx, order.LastNotificationStatus, placed)

	s.publish(ctx, EventOrderPlaced, order.ID, actor.UserID, map[string]any{
		"total":            order.Total,
		"itemCount":        len(order.Items),
		"inventoryUpdated": order.InventoryUpdated,
	})
	s.metrics.OrderPlaced(order.InventoryUpdated)
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) ([]Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 || limit > defaultOrderListLimit {
		limit = defaultOrderListLimit
	}
	orders, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID: strings.TrimSpace(filter.UserID),
		Status: filter.Status,
		Limit:  limit,
	})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	if !cmd.Actor.Admin {
		return Order{}, fmt.Errorf("%w: staff role required", ErrOrderForbidden)
	}
	if !cmd.Status.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}
	order, err := s.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	previous := order.Status
	if !domain.CanTransitionOrder(previous, cmd.Status) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, previous, cmd.Status)
	}

	now := s.clock()
	applyOrderStatus(&order, cmd.Status, now)
	if tracking := strings.TrimSpace(cmd.TrackingNumber); tracking != "" {
		order.TrackingNumber = tracking
	}
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	s.metrics.OrderTransition(string(order.Status))

	changed := NotificationEvent{
		Kind:           NotificationOrderStatusChanged,
		To:             order.Customer.Email,
		OrderID:        order.ID,
		Status:         string(order.Status),
		PreviousStatus: string(previous),
		TrackingNumber: order.TrackingNumber,
		OccurredAt:     now,
	}
	if status, notified := s.notify(ctx, changed); notified {
		order.LastNotificationStatus = status
		if err := s.orders.Update(ctx, order); err != nil {
			s.logger(ctx, "order_notification_mark_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		}
		s.retryNotification(ctx, status, changed)
	}

	s.publish(ctx, EventOrderStatusChanged, order.ID, cmd.Actor.UserID, map[string]any{
		"from": string(previous),
		"to":   string(order.Status),
	})
	return order, nil
}

func (s *orderService) UpdateFulfillment(ctx context.Context, cmd FulfillmentUpdateCommand) (Order, error) {
	if !cmd.Actor.Admin {
		return Order{}, fmt.Errorf("%w: staff role required", ErrOrderForbidden)
	}
	if !cmd.Status.Valid() {
		return Order{}, fmt.Errorf("%w: unknown fulfillment status %q", ErrOrderInvalidInput, cmd.Status)
	}
	order, err := s.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status.Terminal() {
		return Order{}, fmt.Errorf("%w: order is %s", ErrOrderInvalidTransition, order.Status)
	}
	order.FulfillmentStatus = cmd.Status
	order.UpdatedAt = s.clock()
	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// ReconcileInventory applies consumption for stored orders whose stock was
// never fully decremented. Lines recorded in ConsumedLines are not applied
// again. Each order is marked before the next one is processed.
func (s *orderService) ReconcileInventory(ctx context.Context, limit int) (InventoryReconcileReport, error) {
	if limit <= 0 || limit > defaultOrderListLimit {
		limit = defaultOrderListLimit
	}
	pending, err := s.orders.List(ctx, repositories.OrderListFilter{InventoryPending: true, Limit: limit})
	if err != nil {
		return InventoryReconcileReport{}, s.mapRepositoryError(err)
	}

	report := InventoryReconcileReport{}
	for _, order := range pending {
		if order.InventoryUpdated || order.Status == domain.OrderStatusCancelled {
			report.Skipped = append(report.Skipped, order.ID)
			continue
		}
		consumed, err := s.inventory.ApplyOrderConsumption(ctx, order.ConsumptionItems())
		if err != nil {
			s.logger(ctx, "order_reconcile_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
			report.Failed = append(report.Failed, order.ID)
			if recordConsumption(&order, consumed) {
				order.UpdatedAt = s.clock()
				if err := s.orders.Update(ctx, order); err != nil {
					s.logger(ctx, "order_reconcile_mark_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
				}
			}
			continue
		}
		recordConsumption(&order, consumed)
		order.InventoryUpdated = true
		order.UpdatedAt = s.clock()
		if err := s.orders.Update(ctx, order); err != nil {
			s.logger(ctx, "order_reconcile_mark_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
			report.Failed = append(report.Failed, order.ID)
			continue
		}
		report.Reconciled = append(report.Reconciled, order.ID)
	}
	return report, nil
}

// recordConsumption copies the decremented lines of report onto order and
// reports whether anything new was recorded.
func recordConsumption(order *Order, report ConsumptionReport) bool {
	changed := false
	for _, line := range report.Adjusted {
		if order.MarkConsumed(line.ProductID, line.VariantID) {
			changed = true
		}
	}
	return changed
}

// checkStock re-reads every variant. Cart snapshots are not trusted because
// stock may have moved since the item was added.
func (s *orderService) checkStock(ctx context.Context, items []CartLineItem) (map[string]domain.ProductVariant, error) {
	variants := make(map[string]domain.ProductVariant, len(items))
	requested := make(map[string]int, len(items))
	var shortfalls []StockShortfall

	for _, item := range items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity for %s/%s must be positive", ErrOrderInvalidInput, item.ProductID, item.VariantID)
		}
		key := item.ProductID + "/" + item.VariantID
		requested[key] += item.Quantity
		if _, ok := variants[key]; ok {
			continue
		}
		variant, err := s.catalog.GetVariant(ctx, item.ProductID, item.VariantID)
		if err != nil {
			if isRepoNotFound(err) {
				variants[key] = domain.ProductVariant{ID: item.VariantID, ProductID: item.ProductID}
				continue
			}
			return nil, fmt.Errorf("%w: read stock: %v", ErrOrderUnavailable, err)
		}
		variants[key] = variant
	}

	for _, item := range items {
		key := item.ProductID + "/" + item.VariantID
		want, ok := requested[key]
		if !ok {
			continue
		}
		delete(requested, key)
		if available := variants[key].Stock; want > available {
			shortfalls = append(shortfalls, StockShortfall{
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Requested: want,
				Available: max(available, 0),
			})
		}
	}
	if len(shortfalls) > 0 {
		return nil, &InsufficientStockError{Shortfalls: shortfalls}
	}
	return variants, nil
}

func (s *orderService) insertWithSequence(ctx context.Context, order *Order) error {
	for attempt := 1; attempt <= orderInsertAttempts; attempt++ {
		id, err := s.counters.NextID(ctx, domain.OrderSequence)
		if err != nil {
			return fmt.Errorf("%w: order number: %v", ErrOrderUnavailable, err)
		}
		order.ID = id
		err = s.orders.Insert(ctx, *order)
		if err == nil {
			return nil
		}
		if !isRepoConflict(err) {
			return fmt.Errorf("%w: save order: %v", ErrOrderUnavailable, err)
		}
		s.logger(ctx, "order_id_collision", map[string]any{"orderId": id, "attempt": attempt})
	}
	return fmt.Errorf("%w: could not allocate a unique order number", ErrOrderUnavailable)
}

func (s *orderService) notify(ctx context.Context, event NotificationEvent) (domain.NotificationStatus, bool) {
	if s.notifications == nil || strings.TrimSpace(event.To) == "" {
		return domain.NotificationNone, false
	}
	if s.notifications.Notify(ctx, event).Success {
		return domain.NotificationSent, true
	}
	return domain.NotificationFailed, true
}

// retryNotification queues redelivery once the Failed marker has been written.
func (s *orderService) retryNotification(ctx context.Context, status domain.NotificationStatus, event NotificationEvent) {
	if s.notifications == nil || status != domain.NotificationFailed {
		return
	}
	_ = s.notifications.QueueRetry(ctx, event)
}

func (s *orderService) publish(ctx context.Context, eventType, orderID, actorID string, data map[string]any) {
	if s.events == nil {
		return
	}
	event, err := NewDomainEvent(s.newID(), eventType, orderID, actorID, s.clock(), data)
	if err == nil {
		err = s.events.Publish(ctx, event)
	}
	if err != nil {
		s.logger(ctx, "order_event_publish_failed", map[string]any{"orderId": orderID, "type": eventType, "error": err.Error()})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

func applyOrderStatus(order *Order, status OrderStatus, now time.Time) {
	order.Status = status
	switch status {
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
		order.FulfillmentStatus = domain.FulfillmentShipped
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
		order.FulfillmentStatus = domain.FulfillmentDelivered
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	case domain.OrderStatusReturned:
		order.ReturnedAt = &now
	}
}

func buildOrderItems(lines []CartLineItem, variants map[string]domain.ProductVariant) []OrderItem {
	items := make([]OrderItem, 0, len(lines))
	for _, line := range lines {
		variant := variants[line.ProductID+"/"+line.VariantID]
		product, snapshot := variant.Snapshot()
		if product.Name == "" {
			product.Name = line.ProductName
		}
		if snapshot.Size == "" {
			snapshot.Size = line.Size
		}
		if snapshot.Color == "" {
			snapshot.Color = line.Color
		}
		items = append(items, OrderItem{
			Product:  product,
			Variant:  snapshot,
			Quantity: line.Quantity,
			Price:    line.UnitPrice,
		})
	}
	return items
}

func firstAddress(candidates ...*Address) *Address {
	for _, addr := range candidates {
		if addr != nil && !addr.IsZero() {
			out := *addr
			return &out
		}
	}
	return nil
}
