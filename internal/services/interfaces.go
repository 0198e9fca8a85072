package services

import (
	"context"
	"time"

	"github.com/hanko-field/storefront/internal/cart"
	"github.com/hanko-field/storefront/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Actor             = domain.Actor
	Address           = domain.Address
	Cart              = domain.Cart
	CartLineItem      = domain.CartLineItem
	ShippingMethod    = domain.ShippingMethod
	Customer          = domain.Customer
	Order             = domain.Order
	OrderItem         = domain.OrderItem
	OrderStatus       = domain.OrderStatus
	FulfillmentStatus = domain.FulfillmentStatus
	ReturnRequest     = domain.ReturnRequest
	ReturnItem        = domain.ReturnItem
	ReturnStatus      = domain.ReturnStatus
	ConsumptionItem   = domain.ConsumptionItem
	OutboxTask        = domain.OutboxTask
)

// Logger is the structured logging hook services emit through. Implementations adapt it to zap.
type Logger func(ctx context.Context, event string, fields map[string]any)

// CartService owns the authoritative cart of each actor.
type CartService interface {
	Get(ctx context.Context, actor Actor) (Cart, error)
	// Dispatch applies a command to the actor's cart, persists it locally and
	// schedules the remote mirror when the actor is signed in.
	Dispatch(ctx context.Context, actor Actor, cmd cart.Command) (CartMutation, error)
	AddItem(ctx context.Context, actor Actor, cmd AddCartItemCommand) (CartMutation, error)
	UpdateQuantity(ctx context.Context, actor Actor, cmd UpdateCartItemCommand) (CartMutation, error)
	SelectShippingMethod(ctx context.Context, actor Actor, code string) (CartMutation, error)
	Clear(ctx context.Context, actor Actor) error
	ShippingMethods() []ShippingMethod
}

// CartMutation reports the cart after a command together with the reducer outcome.
type CartMutation struct {
	Cart    Cart
	Outcome cart.Outcome
}

// AddCartItemCommand adds a catalog variant to the cart.
type AddCartItemCommand struct {
	ProductID string
	VariantID string
	Quantity  int
}

// UpdateCartItemCommand changes the quantity of an existing line.
type UpdateCartItemCommand struct {
	ProductID string
	VariantID string
	Quantity  int
}

// CounterService issues sequence numbers for human-facing identifiers.
type CounterService interface {
	Next(ctx context.Context, namespace string) (SequenceValue, error)
	// NextID returns the formatted identifier for the namespace, e.g. ORD-01.
	NextID(ctx context.Context, namespace string) (string, error)
}

// SequenceValue is a generated sequence number.
type SequenceValue struct {
	Value     int64
	Formatted string
	// Fallback is set when the value came from the clock instead of the counter transaction.
	Fallback bool
}

// InventoryService adjusts stock after orders consume it.
type InventoryService interface {
	ApplyOrderConsumption(ctx context.Context, items []ConsumptionItem) (ConsumptionReport, error)
}

// ConsumptionReport lists what a consumption run changed.
type ConsumptionReport struct {
	Adjusted []StockAdjustment
	Skipped  []ConsumptionItem
}

// StockAdjustment records one stock write.
type StockAdjustment struct {
	ProductID string
	VariantID string
	Requested int
	Previous  int
	Current   int
	Clamped   bool
}

// OrderService places orders and applies back-office status changes.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) ([]Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	UpdateFulfillment(ctx context.Context, cmd FulfillmentUpdateCommand) (Order, error)
	ReconcileInventory(ctx context.Context, limit int) (InventoryReconcileReport, error)
}

// PlaceOrderCommand converts the actor's cart into an order. Cart overrides the stored cart when set.
type PlaceOrderCommand struct {
	Actor           Actor
	PaymentMethod   string
	Cart            *Cart
	ShippingAddress *Address
	BillingAddress  *Address
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID string
	Status OrderStatus
	Limit  int
}

// OrderStatusTransitionCommand moves an order along the status graph.
type OrderStatusTransitionCommand struct {
	Actor          Actor
	OrderID        string
	Status         OrderStatus
	TrackingNumber string
}

// FulfillmentUpdateCommand sets the physical fulfillment sub-state.
type FulfillmentUpdateCommand struct {
	Actor   Actor
	OrderID string
	Status  FulfillmentStatus
}

// InventoryReconcileReport summarises a reconciliation pass over orders whose stock was never decremented.
type InventoryReconcileReport struct {
	Reconciled []string
	Failed     []string
	Skipped    []string
}

// ReturnService manages return requests.
type ReturnService interface {
	RequestReturn(ctx context.Context, cmd RequestReturnCommand) (ReturnRequestResult, error)
	TransitionReturn(ctx context.Context, cmd TransitionReturnCommand) (ReturnRequest, error)
	BulkTransition(ctx context.Context, cmd BulkTransitionCommand) (BulkTransitionResult, error)
	GetReturn(ctx context.Context, actor Actor, returnID string) (ReturnRequest, error)
	ListReturns(ctx context.Context, filter ReturnListFilter) ([]ReturnRequest, error)
}

// RequestReturnCommand asks to send back items of an order.
type RequestReturnCommand struct {
	Actor   Actor
	OrderID string
	Items   []ReturnItemInput
	Reason  string
}

// ReturnItemInput references an order line and a quantity to return.
type ReturnItemInput struct {
	ProductID string
	VariantID string
	Quantity  int
}

// ReturnRequestResult carries the created request and the outcome of the paired order update.
type ReturnRequestResult struct {
	Request ReturnRequest
	Order   Order
	// OrderLinkFailed is set when the request was stored but the order could not be moved to Return Requested.
	OrderLinkFailed bool
}

// TransitionReturnCommand moves one return request along its lifecycle.
type TransitionReturnCommand struct {
	Actor    Actor
	ReturnID string
	Status   ReturnStatus
	Notes    string
}

// BulkTransitionCommand applies one transition to many return requests independently.
type BulkTransitionCommand struct {
	Actor     Actor
	ReturnIDs []string
	Status    ReturnStatus
	Notes     string
}

// BulkTransitionResult reports per-item outcomes of a bulk transition.
type BulkTransitionResult struct {
	Updated      []ReturnRequest
	Failed       []BulkFailure
	FailedEmails []string
}

// BulkFailure names a request that could not be transitioned.
type BulkFailure struct {
	ID     string
	Reason string
}

// ReturnListFilter narrows return listings.
type ReturnListFilter struct {
	OrderID string
	UserID  string
	Status  ReturnStatus
	Limit   int
}

// NotificationService delivers best-effort customer notifications.
type NotificationService interface {
	// Notify never returns an error; failures are reported in the result.
	Notify(ctx context.Context, event NotificationEvent) NotificationResult
	// QueueRetry schedules redelivery of an event Notify reported as failed.
	QueueRetry(ctx context.Context, event NotificationEvent) error
}

// NotificationKind enumerates notification triggers.
type NotificationKind string

const (
	NotificationOrderPlaced         NotificationKind = "order_placed"
	NotificationOrderStatusChanged  NotificationKind = "order_status_changed"
	NotificationReturnStatusChanged NotificationKind = "return_status_changed"
)

// NotificationEvent describes what changed and who to tell.
type NotificationEvent struct {
	Kind           NotificationKind `json:"kind"`
	To             string           `json:"to"`
	Locale         string           `json:"locale,omitempty"`
	OrderID        string           `json:"orderId"`
	ReturnID       string           `json:"returnId,omitempty"`
	Status         string           `json:"status"`
	PreviousStatus string           `json:"previousStatus,omitempty"`
	Total          int64            `json:"total,omitempty"`
	TrackingNumber string           `json:"trackingNumber,omitempty"`
	ScheduledDate  *time.Time       `json:"scheduledDate,omitempty"`
	RefundAmount   *int64           `json:"refundAmount,omitempty"`
	LabelURL       string           `json:"labelUrl,omitempty"`
	OccurredAt     time.Time        `json:"occurredAt"`
}

// NotificationResult is the outcome of a notification attempt.
type NotificationResult struct {
	Success bool
	Message string
}

// NotificationTransport sends a rendered message.
type NotificationTransport interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ReturnLabelGenerator produces a printable return shipping label and returns its location.
type ReturnLabelGenerator interface {
	GenerateReturnLabel(ctx context.Context, request ReturnRequest, order Order) (string, error)
}

// Metrics receives service-level counters. Implementations must be safe for concurrent use.
type Metrics interface {
	CartCommand(name string, changed bool)
	OrderPlaced(inventoryUpdated bool)
	OrderRejected(reason string)
	OrderTransition(status string)
	ReturnTransition(status string)
	NotificationSent(kind string, success bool)
	SequenceFallback(namespace string)
	OutboxProcessed(kind string, outcome string)
	EventDropped()
}

type noopMetrics struct{}

func (noopMetrics) CartCommand(string, bool)       {}
func (noopMetrics) OrderPlaced(bool)               {}
func (noopMetrics) OrderRejected(string)           {}
func (noopMetrics) OrderTransition(string)         {}
func (noopMetrics) ReturnTransition(string)        {}
func (noopMetrics) NotificationSent(string, bool)  {}
func (noopMetrics) SequenceFallback(string)        {}
func (noopMetrics) OutboxProcessed(string, string) {}
func (noopMetrics) EventDropped()                  {}

func metricsOrNoop(m Metrics) Metrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}

func loggerOrNoop(l Logger) Logger {
	if l == nil {
		return func(context.Context, string, map[string]any) {}
	}
	return l
}

func utcClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time {
		return clock().UTC()
	}
}
