// Package cart implements the cart state machine as a closed set of commands
// applied by a pure reducer. Persistence and side effects live in the service layer.
package cart

import "github.com/hanko-field/storefront/internal/domain"

// Command is a cart mutation. The set of implementations is closed to this package.
type Command interface {
	// Name identifies the command in logs and events.
	Name() string
	isCommand()
}

// AddItem appends a variant to the cart or merges it into an existing line.
type AddItem struct {
	Variant  domain.ProductVariant
	Quantity int
}

// RemoveItem drops the line for the product variant.
type RemoveItem struct {
	ProductID string
	VariantID string
}

// UpdateQuantity replaces the quantity of an existing line. Variant carries
// the current catalog stock used for validation.
type UpdateQuantity struct {
	ProductID string
	VariantID string
	Quantity  int
	Variant   domain.ProductVariant
}

// SetShippingAddress replaces the shipping address wholesale.
type SetShippingAddress struct {
	Address domain.Address
}

// SetBillingAddress replaces the billing address wholesale.
type SetBillingAddress struct {
	Address domain.Address
}

// SelectShippingMethod chooses the delivery option priced into the totals. A nil Method clears it.
type SelectShippingMethod struct {
	Method *domain.ShippingMethod
}

// ApplyDiscount records a discount computed by an external coupon step.
type ApplyDiscount struct {
	Amount int64
}

// Clear empties the items, discount and totals. Addresses are kept.
type Clear struct{}

func (AddItem) Name() string              { return "add_item" }
func (RemoveItem) Name() string           { return "remove_item" }
func (UpdateQuantity) Name() string       { return "update_quantity" }
func (SetShippingAddress) Name() string   { return "set_shipping_address" }
func (SetBillingAddress) Name() string    { return "set_billing_address" }
func (SelectShippingMethod) Name() string { return "select_shipping_method" }
func (ApplyDiscount) Name() string        { return "apply_discount" }
func (Clear) Name() string                { return "clear" }

func (AddItem) isCommand()              {}
func (RemoveItem) isCommand()           {}
func (UpdateQuantity) isCommand()       {}
func (SetShippingAddress) isCommand()   {}
func (SetBillingAddress) isCommand()    {}
func (SelectShippingMethod) isCommand() {}
func (ApplyDiscount) isCommand()        {}
func (Clear) isCommand()                {}
