package domain

// PricingPolicy configures the total calculator.
type PricingPolicy struct {
	// FreeShippingThreshold waives shipping when the discounted subtotal reaches it. Zero disables.
	FreeShippingThreshold int64
}

// ComputeTotals derives subtotal, shipping and grand total from line items.
// The discount is applied to the subtotal before the free-shipping check and
// never drives the subtotal below zero.
func (p PricingPolicy) ComputeTotals(items []CartLineItem, method *ShippingMethod, discount int64) Totals {
	var subtotal int64
	for _, item := range items {
		subtotal += item.UnitPrice * int64(item.Quantity)
	}

	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	discounted := subtotal - discount

	var shipping int64
	switch {
	case method == nil:
	case len(items) == 0:
	case p.FreeShippingThreshold > 0 && discounted >= p.FreeShippingThreshold:
	default:
		shipping = method.Price
	}

	return Totals{
		Subtotal: subtotal,
		Discount: discount,
		Shipping: shipping,
		Total:    discounted + shipping,
	}
}
