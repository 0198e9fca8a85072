package handlers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/services"
)

const (
	maxBodySize      = 16 * 1024
	defaultPageSize  = 20
	maxPageSize      = 100
	noStoreDirective = "no-store, no-cache, max-age=0, must-revalidate"
)

type addressPayload struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

func newAddressPayload(addr *domain.Address) *addressPayload {
	if addr == nil || addr.IsZero() {
		return nil
	}
	payload := addressPayload(*addr)
	return &payload
}

func (p *addressPayload) toDomain() *domain.Address {
	if p == nil {
		return nil
	}
	addr := domain.Address{
		Recipient:  strings.TrimSpace(p.Recipient),
		Line1:      strings.TrimSpace(p.Line1),
		Line2:      strings.TrimSpace(p.Line2),
		City:       strings.TrimSpace(p.City),
		State:      strings.TrimSpace(p.State),
		PostalCode: strings.TrimSpace(p.PostalCode),
		Country:    strings.TrimSpace(p.Country),
		Phone:      strings.TrimSpace(p.Phone),
	}
	return &addr
}

type totalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Shipping int64 `json:"shipping"`
	Total    int64 `json:"total"`
}

type shippingMethodPayload struct {
	Code  string `json:"code"`
	Label string `json:"label"`
	Price int64  `json:"price"`
}

type cartItemPayload struct {
	ProductID   string `json:"product_id"`
	VariantID   string `json:"variant_id"`
	ProductName string `json:"product_name"`
	Size        string `json:"size,omitempty"`
	Color       string `json:"color,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	LineTotal   int64  `json:"line_total"`
}

type cartPayload struct {
	Key             string                 `json:"key"`
	ItemsCount      int                    `json:"items_count"`
	Items           []cartItemPayload      `json:"items"`
	ShippingAddress *addressPayload        `json:"shipping_address,omitempty"`
	BillingAddress  *addressPayload        `json:"billing_address,omitempty"`
	ShippingMethod  *shippingMethodPayload `json:"shipping_method,omitempty"`
	Totals          totalsPayload          `json:"totals"`
	UpdatedAt       string                 `json:"updated_at,omitempty"`
}

func buildCartPayload(key string, cart domain.Cart) cartPayload {
	payload := cartPayload{
		Key:             key,
		Items:           make([]cartItemPayload, 0, len(cart.Items)),
		ShippingAddress: newAddressPayload(cart.ShippingAddress),
		BillingAddress:  newAddressPayload(cart.BillingAddress),
		Totals:          totalsPayload(cart.Totals),
		UpdatedAt:       formatTime(cart.UpdatedAt),
	}
	for _, item := range cart.Items {
		payload.ItemsCount += item.Quantity
		payload.Items = append(payload.Items, cartItemPayload{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			ProductName: item.ProductName,
			Size:        item.Size,
			Color:       item.Color,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.UnitPrice * int64(item.Quantity),
		})
	}
	if cart.ShippingMethod != nil {
		method := shippingMethodPayload(*cart.ShippingMethod)
		payload.ShippingMethod = &method
	}
	return payload
}

type orderItemPayload struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	VariantID   string `json:"variant_id"`
	Size        string `json:"size,omitempty"`
	Color       string `json:"color,omitempty"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
}

type orderPayload struct {
	ID                string             `json:"id"`
	UserID            string             `json:"user_id"`
	Status            string             `json:"status"`
	FulfillmentStatus string             `json:"fulfillment_status"`
	Items             []orderItemPayload `json:"items"`
	ShippingAddress   *addressPayload    `json:"shipping_address,omitempty"`
	BillingAddress    *addressPayload    `json:"billing_address,omitempty"`
	Totals            totalsPayload      `json:"totals"`
	PaymentMethod     string             `json:"payment_method,omitempty"`
	TrackingNumber    string             `json:"tracking_number,omitempty"`
	InventoryUpdated  bool               `json:"inventory_updated"`
	ReturnRequestID   string             `json:"return_request_id,omitempty"`
	CreatedAt         string             `json:"created_at"`
	UpdatedAt         string             `json:"updated_at"`
	ShippedAt         string             `json:"shipped_at,omitempty"`
	DeliveredAt       string             `json:"delivered_at,omitempty"`
	CancelledAt       string             `json:"cancelled_at,omitempty"`
	ReturnedAt        string             `json:"returned_at,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:                order.ID,
		UserID:            order.UserID,
		Status:            string(order.Status),
		FulfillmentStatus: string(order.FulfillmentStatus),
		Items:             make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress:   newAddressPayload(&order.ShippingAddress),
		BillingAddress:    newAddressPayload(&order.BillingAddress),
		Totals: totalsPayload{
			Subtotal: order.Subtotal,
			Discount: order.Discount,
			Shipping: order.Shipping,
			Total:    order.Total,
		},
		PaymentMethod:    order.PaymentMethod,
		TrackingNumber:   order.TrackingNumber,
		InventoryUpdated: order.InventoryUpdated,
		ReturnRequestID:  order.ReturnRequestID,
		CreatedAt:        formatTime(order.CreatedAt),
		UpdatedAt:        formatTime(order.UpdatedAt),
		ShippedAt:        formatTimePtr(order.ShippedAt),
		DeliveredAt:      formatTimePtr(order.DeliveredAt),
		CancelledAt:      formatTimePtr(order.CancelledAt),
		ReturnedAt:       formatTimePtr(order.ReturnedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:   item.Product.ID,
			ProductName: item.Product.Name,
			VariantID:   item.Variant.ID,
			Size:        item.Variant.Size,
			Color:       item.Variant.Color,
			Quantity:    item.Quantity,
			Price:       item.Price,
		})
	}
	return payload
}

type returnItemPayload struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price,omitempty"`
}

type returnPayload struct {
	ID            string              `json:"id"`
	OrderID       string              `json:"order_id"`
	UserID        string              `json:"user_id"`
	Status        string              `json:"status"`
	Reason        string              `json:"reason"`
	Notes         string              `json:"notes,omitempty"`
	Items         []returnItemPayload `json:"items"`
	ItemsTotal    int64               `json:"items_total"`
	ScheduledDate string              `json:"scheduled_date,omitempty"`
	RefundStatus  string              `json:"refund_status,omitempty"`
	RefundAmount  *int64              `json:"refund_amount,omitempty"`
	RefundDate    string              `json:"refund_date,omitempty"`
	LabelURL      string              `json:"label_url,omitempty"`
	CreatedAt     string              `json:"created_at"`
	UpdatedAt     string              `json:"updated_at"`
}

func buildReturnPayload(request domain.ReturnRequest) returnPayload {
	payload := returnPayload{
		ID:            request.ID,
		OrderID:       request.OrderID,
		UserID:        request.UserID,
		Status:        string(request.Status),
		Reason:        request.Reason,
		Notes:         request.Notes,
		Items:         make([]returnItemPayload, 0, len(request.Items)),
		ItemsTotal:    request.ItemsTotal(),
		ScheduledDate: formatTime(request.ScheduledDate),
		RefundStatus:  string(request.RefundStatus),
		RefundAmount:  request.RefundAmount,
		RefundDate:    formatTimePtr(request.RefundDate),
		LabelURL:      request.LabelURL,
		CreatedAt:     formatTime(request.CreatedAt),
		UpdatedAt:     formatTime(request.UpdatedAt),
	}
	for _, item := range request.Items {
		payload.Items = append(payload.Items, returnItemPayload(item))
	}
	return payload
}

func buildStockShortfalls(err *services.InsufficientStockError) []map[string]any {
	out := make([]map[string]any, 0, len(err.Shortfalls))
	for _, s := range err.Shortfalls {
		out = append(out, map[string]any{
			"product_id": s.ProductID,
			"variant_id": s.VariantID,
			"requested":  s.Requested,
			"available":  s.Available,
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parsePageSize(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultPageSize, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size <= 0 {
		return 0, errors.New("page_size must be a positive integer")
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return size, nil
}
