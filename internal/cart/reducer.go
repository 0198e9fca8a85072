package cart

import (
	"errors"
	"fmt"

	"github.com/hanko-field/storefront/internal/domain"
)

var (
	// ErrQuantityExceedsStock is reported when an update asks for more units than the variant holds.
	ErrQuantityExceedsStock = errors.New("cart: quantity exceeds available stock")
	// ErrQuantityBelowMinimum is reported when an update asks for fewer than one unit.
	ErrQuantityBelowMinimum = errors.New("cart: quantity must be at least 1")
	// ErrUnknownCommand is reported for commands outside the closed set.
	ErrUnknownCommand = errors.New("cart: unknown command")
)

// Outcome describes what a command did to the cart.
type Outcome struct {
	// Changed is false when the command left the cart untouched.
	Changed bool
	// Clamped is set when an added quantity was reduced to the available stock.
	Clamped bool
	// Warning explains a rejected command. The returned cart equals the input in that case.
	Warning error
}

// Reducer applies commands to carts. It performs no I/O.
type Reducer struct {
	Pricing domain.PricingPolicy
}

// Apply returns the cart resulting from cmd. The input cart is never modified.
func (r Reducer) Apply(state domain.Cart, cmd Command) (domain.Cart, Outcome) {
	next := state.Clone()
	var outcome Outcome

	switch c := cmd.(type) {
	case AddItem:
		outcome = addItem(&next, c)
	case RemoveItem:
		outcome = removeItem(&next, c)
	case UpdateQuantity:
		outcome = updateQuantity(&next, c)
	case SetShippingAddress:
		addr := c.Address
		next.ShippingAddress = &addr
		outcome.Changed = true
	case SetBillingAddress:
		addr := c.Address
		next.BillingAddress = &addr
		outcome.Changed = true
	case SelectShippingMethod:
		if c.Method != nil {
			method := *c.Method
			next.ShippingMethod = &method
		} else {
			next.ShippingMethod = nil
		}
		outcome.Changed = true
	case ApplyDiscount:
		next.Discount = max(c.Amount, 0)
		outcome.Changed = true
	case Clear:
		next.Items = nil
		next.Discount = 0
		outcome.Changed = true
	default:
		return state, Outcome{Warning: fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)}
	}

	if !outcome.Changed {
		return state, outcome
	}
	next.Totals = r.Pricing.ComputeTotals(next.Items, next.ShippingMethod, next.Discount)
	return next, outcome
}

// Recalculate refreshes derived totals without applying a command.
func (r Reducer) Recalculate(state domain.Cart) domain.Cart {
	next := state.Clone()
	next.Totals = r.Pricing.ComputeTotals(next.Items, next.ShippingMethod, next.Discount)
	return next
}

func addItem(c *domain.Cart, cmd AddItem) Outcome {
	variant := cmd.Variant
	if cmd.Quantity < 1 || variant.Stock <= 0 {
		return Outcome{}
	}

	idx := indexOf(c.Items, variant.ProductID, variant.ID)
	current := 0
	if idx >= 0 {
		current = c.Items[idx].Quantity
	}

	want := current + cmd.Quantity
	clamped := false
	if want > variant.Stock {
		want = variant.Stock
		clamped = true
	}
	if want == current {
		return Outcome{Clamped: clamped}
	}

	if idx >= 0 {
		line := c.Items[idx]
		line.Quantity = want
		line.StockAtSelection = variant.Stock
		c.Items[idx] = line
	} else {
		c.Items = append(c.Items, domain.CartLineItem{
			ProductID:        variant.ProductID,
			VariantID:        variant.ID,
			ProductName:      variant.ProductName,
			Size:             variant.Size,
			Color:            variant.Color,
			Quantity:         want,
			UnitPrice:        variant.Price,
			StockAtSelection: variant.Stock,
		})
	}
	return Outcome{Changed: true, Clamped: clamped}
}

func removeItem(c *domain.Cart, cmd RemoveItem) Outcome {
	idx := indexOf(c.Items, cmd.ProductID, cmd.VariantID)
	if idx < 0 {
		return Outcome{}
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	return Outcome{Changed: true}
}

func updateQuantity(c *domain.Cart, cmd UpdateQuantity) Outcome {
	if cmd.Quantity < 1 {
		return Outcome{Warning: ErrQuantityBelowMinimum}
	}
	if cmd.Quantity > cmd.Variant.Stock {
		return Outcome{Warning: fmt.Errorf("%w: requested %d, available %d", ErrQuantityExceedsStock, cmd.Quantity, cmd.Variant.Stock)}
	}
	idx := indexOf(c.Items, cmd.ProductID, cmd.VariantID)
	if idx < 0 {
		return Outcome{}
	}
	if c.Items[idx].Quantity == cmd.Quantity {
		return Outcome{}
	}
	c.Items[idx].Quantity = cmd.Quantity
	c.Items[idx].StockAtSelection = cmd.Variant.Stock
	return Outcome{Changed: true}
}

func indexOf(items []domain.CartLineItem, productID, variantID string) int {
	for i, item := range items {
		if item.Matches(productID, variantID) {
			return i
		}
	}
	return -1
}
