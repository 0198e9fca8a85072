package domain

import (
	"strings"
	"time"
)

// Actor carries the caller identity explicitly through the service layer.
// An empty UserID denotes a guest session.
type Actor struct {
	UserID      string
	SessionID   string
	Email       string
	DisplayName string
	Locale      string
	Admin       bool
}

// Authenticated reports whether the actor carries a user id.
func (a Actor) Authenticated() bool {
	return strings.TrimSpace(a.UserID) != ""
}

// CartKey returns the key the cart of this actor is stored under. Signed-in
// users share one cart across sessions; guests are keyed by session.
func (a Actor) CartKey() string {
	if uid := strings.TrimSpace(a.UserID); uid != "" {
		return "user:" + uid
	}
	if sid := strings.TrimSpace(a.SessionID); sid != "" {
		return "session:" + sid
	}
	return ""
}

// Address represents a postal address used for shipping and billing.
type Address struct {
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// IsZero reports whether no meaningful address field was supplied.
func (a Address) IsZero() bool {
	return strings.TrimSpace(a.Recipient) == "" &&
		strings.TrimSpace(a.Line1) == "" &&
		strings.TrimSpace(a.City) == "" &&
		strings.TrimSpace(a.PostalCode) == ""
}

// ProductSnapshot freezes the product fields an order needs to render.
type ProductSnapshot struct {
	ID   string
	Name string
	SKU  string
}

// VariantSnapshot freezes the purchasable variant attributes.
type VariantSnapshot struct {
	ID    string
	Size  string
	Color string
}

// ProductVariant is the catalog view of a purchasable SKU. Stock is never negative.
type ProductVariant struct {
	ID          string
	ProductID   string
	ProductName string
	SKU         string
	Size        string
	Color       string
	Stock       int
	Price       int64
	UpdatedAt   time.Time
}

// Snapshot returns the immutable product and variant snapshots for order lines.
func (v ProductVariant) Snapshot() (ProductSnapshot, VariantSnapshot) {
	return ProductSnapshot{ID: v.ProductID, Name: v.ProductName, SKU: v.SKU},
		VariantSnapshot{ID: v.ID, Size: v.Size, Color: v.Color}
}

// CartLineItem is one (product, variant, quantity) entry in a cart.
type CartLineItem struct {
	ProductID        string
	VariantID        string
	ProductName      string
	Size             string
	Color            string
	Quantity         int
	UnitPrice        int64
	StockAtSelection int
}

// Matches reports whether the line refers to the given product variant.
func (i CartLineItem) Matches(productID, variantID string) bool {
	return i.ProductID == productID && i.VariantID == variantID
}

// ShippingMethod is a selectable delivery option.
type ShippingMethod struct {
	Code  string
	Label string
	Price int64
}

// Totals holds derived monetary amounts in minor currency units.
type Totals struct {
	Subtotal int64
	Discount int64
	Shipping int64
	Total    int64
}

// Cart is the shopping cart of one user or guest session. Items keep
// insertion order and Totals is derived by the pricing calculator.
type Cart struct {
	ID              string
	UserID          string
	SessionID       string
	Items           []CartLineItem
	ShippingAddress *Address
	BillingAddress  *Address
	ShippingMethod  *ShippingMethod
	Discount        int64
	Totals          Totals
	UpdatedAt       time.Time
}

// Empty reports whether the cart holds no line items.
func (c Cart) Empty() bool {
	return len(c.Items) == 0
}

// Clone returns a deep copy so reducers never alias caller state.
func (c Cart) Clone() Cart {
	out := c
	if c.Items != nil {
		out.Items = append([]CartLineItem(nil), c.Items...)
	}
	if c.ShippingAddress != nil {
		addr := *c.ShippingAddress
		out.ShippingAddress = &addr
	}
	if c.BillingAddress != nil {
		addr := *c.BillingAddress
		out.BillingAddress = &addr
	}
	if c.ShippingMethod != nil {
		method := *c.ShippingMethod
		out.ShippingMethod = &method
	}
	return out
}

// Customer is the persisted buyer profile refreshed on every placement.
type Customer struct {
	ID              string
	Email           string
	DisplayName     string
	Locale          string
	ShippingAddress *Address
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderStatus enumerates the customer-facing order lifecycle.
type OrderStatus string

const (
	OrderStatusProcessing      OrderStatus = "Processing"
	OrderStatusShipped         OrderStatus = "Shipped"
	OrderStatusDelivered       OrderStatus = "Delivered"
	OrderStatusCancelled       OrderStatus = "Cancelled"
	OrderStatusReturnRequested OrderStatus = "Return Requested"
	OrderStatusReturned        OrderStatus = "Returned"
)

// FulfillmentStatus tracks physical pick/pack/ship progress, independent of OrderStatus.
type FulfillmentStatus string

const (
	FulfillmentUnfulfilled FulfillmentStatus = "Unfulfilled"
	FulfillmentPicking     FulfillmentStatus = "Picking"
	FulfillmentPacked      FulfillmentStatus = "Packed"
	FulfillmentShipped     FulfillmentStatus = "Shipped"
	FulfillmentDelivered   FulfillmentStatus = "Delivered"
)

// NotificationStatus records the outcome of the last notification attempt for a record.
type NotificationStatus string

const (
	NotificationNone   NotificationStatus = ""
	NotificationSent   NotificationStatus = "Sent"
	NotificationFailed NotificationStatus = "Failed"
)

// OrderItem is an immutable order line.
type OrderItem struct {
	Product  ProductSnapshot
	Variant  VariantSnapshot
	Quantity int
	Price    int64
}

// LineTotal returns price multiplied by quantity.
func (i OrderItem) LineTotal() int64 {
	return i.Price * int64(i.Quantity)
}

// OrderCustomer is the customer snapshot stored on the order.
type OrderCustomer struct {
	ID          string
	Email       string
	DisplayName string
}

// Order is created once at checkout. Only status, fulfillment, tracking and
// reconciliation fields change afterwards.
type Order struct {
	ID                     string
	UserID                 string
	Customer               OrderCustomer
	Items                  []OrderItem
	ShippingAddress        Address
	BillingAddress         Address
	Subtotal               int64
	Discount               int64
	Shipping               int64
	Total                  int64
	Status                 OrderStatus
	FulfillmentStatus      FulfillmentStatus
	PaymentMethod          string
	TrackingNumber         string
	InventoryUpdated       bool
	// ConsumedLines holds ConsumptionKey values whose stock has already been decremented.
	ConsumedLines          []string
	ReturnRequestID        string
	LastNotificationStatus NotificationStatus
	CreatedAt              time.Time
	UpdatedAt              time.Time
	ShippedAt              *time.Time
	DeliveredAt            *time.Time
	CancelledAt            *time.Time
	ReturnedAt             *time.Time
}

// ConsumptionItems lists the inventory decrements this order still requires.
// Lines already recorded in ConsumedLines are left out.
func (o Order) ConsumptionItems() []ConsumptionItem {
	items := make([]ConsumptionItem, 0, len(o.Items))
	for _, item := range o.Items {
		if o.Consumed(item.Product.ID, item.Variant.ID) {
			continue
		}
		items = append(items, ConsumptionItem{
			ProductID: item.Product.ID,
			VariantID: item.Variant.ID,
			Quantity:  item.Quantity,
		})
	}
	return items
}

// Consumed reports whether stock for the line was already decremented.
func (o Order) Consumed(productID, variantID string) bool {
	key := ConsumptionKey(productID, variantID)
	for _, line := range o.ConsumedLines {
		if line == key {
			return true
		}
	}
	return false
}

// MarkConsumed records the line as decremented. It reports whether the set changed.
func (o *Order) MarkConsumed(productID, variantID string) bool {
	if o.Consumed(productID, variantID) {
		return false
	}
	o.ConsumedLines = append(o.ConsumedLines, ConsumptionKey(productID, variantID))
	return true
}

// ConsumptionKey identifies an order line for stock bookkeeping.
func ConsumptionKey(productID, variantID string) string {
	return productID + "/" + variantID
}

// ConsumptionItem is one stock decrement request.
type ConsumptionItem struct {
	ProductID string
	VariantID string
	Quantity  int
}

// ReturnStatus enumerates the return request lifecycle.
type ReturnStatus string

const (
	ReturnStatusRequested  ReturnStatus = "Requested"
	ReturnStatusApproved   ReturnStatus = "Approved"
	ReturnStatusInProgress ReturnStatus = "In Progress"
	ReturnStatusCompleted  ReturnStatus = "Completed"
	ReturnStatusRejected   ReturnStatus = "Rejected"
)

// RefundStatus describes refund progress for a completed return.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "Pending"
	RefundStatusCompleted RefundStatus = "Completed"
)

// ReturnItem references an order line being sent back.
type ReturnItem struct {
	ProductID string
	VariantID string
	Quantity  int
	Price     int64
}

// ReturnRequest is a customer request to send back (part of) an order.
type ReturnRequest struct {
	ID                     string
	OrderID                string
	UserID                 string
	CustomerEmail          string
	Items                  []ReturnItem
	Reason                 string
	Notes                  string
	Status                 ReturnStatus
	CreatedAt              time.Time
	UpdatedAt              time.Time
	ScheduledDate          time.Time
	RefundStatus           RefundStatus
	RefundAmount           *int64
	RefundDate             *time.Time
	LabelURL               string
	LastNotificationStatus NotificationStatus
}

// ItemsTotal sums price multiplied by quantity over the returned items.
func (r ReturnRequest) ItemsTotal() int64 {
	var total int64
	for _, item := range r.Items {
		total += item.Price * int64(item.Quantity)
	}
	return total
}

// SequenceCounter is the persisted state of one sequence namespace.
type SequenceCounter struct {
	Name      string
	Value     int64
	UpdatedAt time.Time
}

// Sequence namespaces.
const (
	OrderSequence  = "order_sequence"
	ReturnSequence = "return_sequence"
)

// OutboxStatus enumerates queued side-effect states.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "PENDING"
	OutboxProcessing OutboxStatus = "PROCESSING"
	OutboxDone       OutboxStatus = "DONE"
	OutboxFailed     OutboxStatus = "FAILED"
)

// OutboxTask is a durable description of a side effect applied asynchronously.
type OutboxTask struct {
	ID            string
	Kind          string
	Key           string
	Payload       []byte
	Status        OutboxStatus
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}
