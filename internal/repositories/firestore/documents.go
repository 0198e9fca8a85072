package firestore

import (
	"time"

	"github.com/hanko-field/storefront/internal/domain"
)

type addressDocument struct {
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country,omitempty"`
	Phone      string `firestore:"phone,omitempty"`
}

func newAddressDocument(addr domain.Address) addressDocument {
	return addressDocument(addr)
}

func newAddressDocumentPtr(addr *domain.Address) *addressDocument {
	if addr == nil {
		return nil
	}
	doc := newAddressDocument(*addr)
	return &doc
}

func (d addressDocument) toDomain() domain.Address {
	return domain.Address(d)
}

func (d *addressDocument) toDomainPtr() *domain.Address {
	if d == nil {
		return nil
	}
	addr := d.toDomain()
	return &addr
}

type cartItemDocument struct {
	ProductID        string `firestore:"productId"`
	VariantID        string `firestore:"variantId"`
	ProductName      string `firestore:"productName"`
	Size             string `firestore:"size,omitempty"`
	Color            string `firestore:"color,omitempty"`
	Quantity         int    `firestore:"quantity"`
	UnitPrice        int64  `firestore:"unitPrice"`
	StockAtSelection int    `firestore:"stockAtSelection"`
}

type shippingMethodDocument struct {
	Code  string `firestore:"code"`
	Label string `firestore:"label"`
	Price int64  `firestore:"price"`
}

type totalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Discount int64 `firestore:"discount"`
	Shipping int64 `firestore:"shipping"`
	Total    int64 `firestore:"total"`
}

type cartDocument struct {
	UserID          string                  `firestore:"userId,omitempty"`
	SessionID       string                  `firestore:"sessionId,omitempty"`
	Items           []cartItemDocument      `firestore:"items"`
	ShippingAddress *addressDocument        `firestore:"shippingAddress,omitempty"`
	BillingAddress  *addressDocument        `firestore:"billingAddress,omitempty"`
	ShippingMethod  *shippingMethodDocument `firestore:"shippingMethod,omitempty"`
	Discount        int64                   `firestore:"discount"`
	Totals          totalsDocument          `firestore:"totals"`
	UpdatedAt       time.Time               `firestore:"updatedAt"`
}

func newCartDocument(cart domain.Cart) cartDocument {
	doc := cartDocument{
		UserID:          cart.UserID,
		SessionID:       cart.SessionID,
		Items:           make([]cartItemDocument, 0, len(cart.Items)),
		ShippingAddress: newAddressDocumentPtr(cart.ShippingAddress),
		BillingAddress:  newAddressDocumentPtr(cart.BillingAddress),
		Discount:        cart.Discount,
		Totals:          totalsDocument(cart.Totals),
		UpdatedAt:       cart.UpdatedAt.UTC(),
	}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, cartItemDocument(item))
	}
	if cart.ShippingMethod != nil {
		method := shippingMethodDocument(*cart.ShippingMethod)
		doc.ShippingMethod = &method
	}
	return doc
}

func (d cartDocument) toDomain(id string) domain.Cart {
	cart := domain.Cart{
		ID:              id,
		UserID:          d.UserID,
		SessionID:       d.SessionID,
		ShippingAddress: d.ShippingAddress.toDomainPtr(),
		BillingAddress:  d.BillingAddress.toDomainPtr(),
		Discount:        d.Discount,
		Totals:          domain.Totals(d.Totals),
		UpdatedAt:       d.UpdatedAt,
	}
	for _, item := range d.Items {
		cart.Items = append(cart.Items, domain.CartLineItem(item))
	}
	if d.ShippingMethod != nil {
		method := domain.ShippingMethod(*d.ShippingMethod)
		cart.ShippingMethod = &method
	}
	return cart
}

type variantDocument struct {
	ProductID   string    `firestore:"productId"`
	VariantID   string    `firestore:"variantId"`
	ProductName string    `firestore:"productName"`
	SKU         string    `firestore:"sku,omitempty"`
	Size        string    `firestore:"size,omitempty"`
	Color       string    `firestore:"color,omitempty"`
	Stock       int       `firestore:"stock"`
	Price       int64     `firestore:"price"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func newVariantDocument(v domain.ProductVariant) variantDocument {
	return variantDocument{
		ProductID:   v.ProductID,
		VariantID:   v.ID,
		ProductName: v.ProductName,
		SKU:         v.SKU,
		Size:        v.Size,
		Color:       v.Color,
		Stock:       v.Stock,
		Price:       v.Price,
		UpdatedAt:   v.UpdatedAt.UTC(),
	}
}

func (d variantDocument) toDomain() domain.ProductVariant {
	return domain.ProductVariant{
		ID:          d.VariantID,
		ProductID:   d.ProductID,
		ProductName: d.ProductName,
		SKU:         d.SKU,
		Size:        d.Size,
		Color:       d.Color,
		Stock:       d.Stock,
		Price:       d.Price,
		UpdatedAt:   d.UpdatedAt,
	}
}

type customerDocument struct {
	Email           string           `firestore:"email"`
	DisplayName     string           `firestore:"displayName,omitempty"`
	Locale          string           `firestore:"locale,omitempty"`
	ShippingAddress *addressDocument `firestore:"shippingAddress,omitempty"`
	CreatedAt       time.Time        `firestore:"createdAt"`
	UpdatedAt       time.Time        `firestore:"updatedAt"`
}

func (d customerDocument) toDomain(id string) domain.Customer {
	return domain.Customer{
		ID:              id,
		Email:           d.Email,
		DisplayName:     d.DisplayName,
		Locale:          d.Locale,
		ShippingAddress: d.ShippingAddress.toDomainPtr(),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	SKU         string `firestore:"sku,omitempty"`
	VariantID   string `firestore:"variantId"`
	Size        string `firestore:"size,omitempty"`
	Color       string `firestore:"color,omitempty"`
	Quantity    int    `firestore:"quantity"`
	Price       int64  `firestore:"price"`
}

type orderCustomerDocument struct {
	ID          string `firestore:"id"`
	Email       string `firestore:"email"`
	DisplayName string `firestore:"displayName,omitempty"`
}

type orderDocument struct {
	UserID                 string                `firestore:"userId"`
	Customer               orderCustomerDocument `firestore:"customer"`
	Items                  []orderItemDocument   `firestore:"items"`
	ShippingAddress        addressDocument       `firestore:"shippingAddress"`
	BillingAddress         addressDocument       `firestore:"billingAddress"`
	Subtotal               int64                 `firestore:"subtotal"`
	Discount               int64                 `firestore:"discount"`
	Shipping               int64                 `firestore:"shipping"`
	Total                  int64                 `firestore:"total"`
	Status                 string                `firestore:"status"`
	FulfillmentStatus      string                `firestore:"fulfillmentStatus"`
	PaymentMethod          string                `firestore:"paymentMethod,omitempty"`
	TrackingNumber         string                `firestore:"trackingNumber,omitempty"`
	InventoryUpdated       bool                  `firestore:"inventoryUpdated"`
	ConsumedLines          []string              `firestore:"consumedLines,omitempty"`
	ReturnRequestID        string                `firestore:"returnRequestId,omitempty"`
	LastNotificationStatus string                `firestore:"lastNotificationStatus,omitempty"`
	CreatedAt              time.Time             `firestore:"createdAt"`
	UpdatedAt              time.Time             `firestore:"updatedAt"`
	ShippedAt              *time.Time            `firestore:"shippedAt,omitempty"`
	DeliveredAt            *time.Time            `firestore:"deliveredAt,omitempty"`
	CancelledAt            *time.Time            `firestore:"cancelledAt,omitempty"`
	ReturnedAt             *time.Time            `firestore:"returnedAt,omitempty"`
}

func newOrderDocument(o domain.Order) orderDocument {
	doc := orderDocument{
		UserID:                 o.UserID,
		Customer:               orderCustomerDocument(o.Customer),
		Items:                  make([]orderItemDocument, 0, len(o.Items)),
		ShippingAddress:        newAddressDocument(o.ShippingAddress),
		BillingAddress:         newAddressDocument(o.BillingAddress),
		Subtotal:               o.Subtotal,
		Discount:               o.Discount,
		Shipping:               o.Shipping,
		Total:                  o.Total,
		Status:                 string(o.Status),
		FulfillmentStatus:      string(o.FulfillmentStatus),
		PaymentMethod:          o.PaymentMethod,
		TrackingNumber:         o.TrackingNumber,
		InventoryUpdated:       o.InventoryUpdated,
		ConsumedLines:          o.ConsumedLines,
		ReturnRequestID:        o.ReturnRequestID,
		LastNotificationStatus: string(o.LastNotificationStatus),
		CreatedAt:              o.CreatedAt.UTC(),
		UpdatedAt:              o.UpdatedAt.UTC(),
		ShippedAt:              o.ShippedAt,
		DeliveredAt:            o.DeliveredAt,
		CancelledAt:            o.CancelledAt,
		ReturnedAt:             o.ReturnedAt,
	}
	for _, item := range o.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID:   item.Product.ID,
			ProductName: item.Product.Name,
			SKU:         item.Product.SKU,
			VariantID:   item.Variant.ID,
			Size:        item.Variant.Size,
			Color:       item.Variant.Color,
			Quantity:    item.Quantity,
			Price:       item.Price,
		})
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:                     id,
		UserID:                 d.UserID,
		Customer:               domain.OrderCustomer(d.Customer),
		Items:                  make([]domain.OrderItem, 0, len(d.Items)),
		ShippingAddress:        d.ShippingAddress.toDomain(),
		BillingAddress:         d.BillingAddress.toDomain(),
		Subtotal:               d.Subtotal,
		Discount:               d.Discount,
		Shipping:               d.Shipping,
		Total:                  d.Total,
		Status:                 domain.OrderStatus(d.Status),
		FulfillmentStatus:      domain.FulfillmentStatus(d.FulfillmentStatus),
		PaymentMethod:          d.PaymentMethod,
		TrackingNumber:         d.TrackingNumber,
		InventoryUpdated:       d.InventoryUpdated,
		ConsumedLines:          d.ConsumedLines,
		ReturnRequestID:        d.ReturnRequestID,
		LastNotificationStatus: domain.NotificationStatus(d.LastNotificationStatus),
		CreatedAt:              d.CreatedAt,
		UpdatedAt:              d.UpdatedAt,
		ShippedAt:              d.ShippedAt,
		DeliveredAt:            d.DeliveredAt,
		CancelledAt:            d.CancelledAt,
		ReturnedAt:             d.ReturnedAt,
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem{
			Product:  domain.ProductSnapshot{ID: item.ProductID, Name: item.ProductName, SKU: item.SKU},
			Variant:  domain.VariantSnapshot{ID: item.VariantID, Size: item.Size, Color: item.Color},
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}
	return order
}

type returnItemDocument struct {
	ProductID string `firestore:"productId"`
	VariantID string `firestore:"variantId"`
	Quantity  int    `firestore:"quantity"`
	Price     int64  `firestore:"price"`
}

type returnDocument struct {
	OrderID                string               `firestore:"orderId"`
	UserID                 string               `firestore:"userId"`
	CustomerEmail          string               `firestore:"customerEmail,omitempty"`
	Items                  []returnItemDocument `firestore:"items"`
	Reason                 string               `firestore:"reason"`
	Notes                  string               `firestore:"notes,omitempty"`
	Status                 string               `firestore:"status"`
	CreatedAt              time.Time            `firestore:"createdAt"`
	UpdatedAt              time.Time            `firestore:"updatedAt"`
	ScheduledDate          time.Time            `firestore:"scheduledDate"`
	RefundStatus           string               `firestore:"refundStatus,omitempty"`
	RefundAmount           *int64               `firestore:"refundAmount,omitempty"`
	RefundDate             *time.Time           `firestore:"refundDate,omitempty"`
	LabelURL               string               `firestore:"labelUrl,omitempty"`
	LastNotificationStatus string               `firestore:"lastNotificationStatus,omitempty"`
}

func newReturnDocument(r domain.ReturnRequest) returnDocument {
	doc := returnDocument{
		OrderID:                r.OrderID,
		UserID:                 r.UserID,
		CustomerEmail:          r.CustomerEmail,
		Items:                  make([]returnItemDocument, 0, len(r.Items)),
		Reason:                 r.Reason,
		Notes:                  r.Notes,
		Status:                 string(r.Status),
		CreatedAt:              r.CreatedAt.UTC(),
		UpdatedAt:              r.UpdatedAt.UTC(),
		ScheduledDate:          r.ScheduledDate.UTC(),
		RefundStatus:           string(r.RefundStatus),
		RefundAmount:           r.RefundAmount,
		RefundDate:             r.RefundDate,
		LabelURL:               r.LabelURL,
		LastNotificationStatus: string(r.LastNotificationStatus),
	}
	for _, item := range r.Items {
		doc.Items = append(doc.Items, returnItemDocument(item))
	}
	return doc
}

func (d returnDocument) toDomain(id string) domain.ReturnRequest {
	req := domain.ReturnRequest{
		ID:                     id,
		OrderID:                d.OrderID,
		UserID:                 d.UserID,
		CustomerEmail:          d.CustomerEmail,
		Items:                  make([]domain.ReturnItem, 0, len(d.Items)),
		Reason:                 d.Reason,
		Notes:                  d.Notes,
		Status:                 domain.ReturnStatus(d.Status),
		CreatedAt:              d.CreatedAt,
		UpdatedAt:              d.UpdatedAt,
		ScheduledDate:          d.ScheduledDate,
		RefundStatus:           domain.RefundStatus(d.RefundStatus),
		RefundAmount:           d.RefundAmount,
		RefundDate:             d.RefundDate,
		LabelURL:               d.LabelURL,
		LastNotificationStatus: domain.NotificationStatus(d.LastNotificationStatus),
	}
	for _, item := range d.Items {
		req.Items = append(req.Items, domain.ReturnItem(item))
	}
	return req
}

type counterDocument struct {
	Value     int64     `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type outboxDocument struct {
	Kind          string     `firestore:"kind"`
	Key           string     `firestore:"key,omitempty"`
	Payload       []byte     `firestore:"payload"`
	Status        string     `firestore:"status"`
	Attempts      int        `firestore:"attempts"`
	LastError     string     `firestore:"lastError,omitempty"`
	NextAttemptAt time.Time  `firestore:"nextAttemptAt"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
	CompletedAt   *time.Time `firestore:"completedAt,omitempty"`
}

func newOutboxDocument(t domain.OutboxTask) outboxDocument {
	return outboxDocument{
		Kind:          t.Kind,
		Key:           t.Key,
		Payload:       t.Payload,
		Status:        string(t.Status),
		Attempts:      t.Attempts,
		LastError:     t.LastError,
		NextAttemptAt: t.NextAttemptAt.UTC(),
		CreatedAt:     t.CreatedAt.UTC(),
		UpdatedAt:     t.UpdatedAt.UTC(),
		CompletedAt:   t.CompletedAt,
	}
}

func (d outboxDocument) toDomain(id string) domain.OutboxTask {
	return domain.OutboxTask{
		ID:            id,
		Kind:          d.Kind,
		Key:           d.Key,
		Payload:       d.Payload,
		Status:        domain.OutboxStatus(d.Status),
		Attempts:      d.Attempts,
		LastError:     d.LastError,
		NextAttemptAt: d.NextAttemptAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		CompletedAt:   d.CompletedAt,
	}
}
