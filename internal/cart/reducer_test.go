package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/storefront/internal/domain"
)

func variant(productID, variantID string, price int64, stock int) domain.ProductVariant {
	return domain.ProductVariant{ID: variantID, ProductID: productID, ProductName: "Tee " + productID, Price: price, Stock: stock}
}

func TestReducerAddItemAppendsAndMerges(t *testing.T) {
	r := Reducer{}
	state := domain.Cart{}

	state, out := r.Apply(state, AddItem{Variant: variant("p1", "v1", 500, 10), Quantity: 2})
	require.True(t, out.Changed)
	state, _ = r.Apply(state, AddItem{Variant: variant("p2", "v9", 300, 10), Quantity: 1})
	state, out = r.Apply(state, AddItem{Variant: variant("p1", "v1", 500, 10), Quantity: 3})
	require.True(t, out.Changed)

	require.Len(t, state.Items, 2)
	assert.Equal(t, "v1", state.Items[0].VariantID, "insertion order is display order")
	assert.Equal(t, 5, state.Items[0].Quantity)
	assert.Equal(t, int64(2800), state.Totals.Subtotal)
	assert.Equal(t, int64(2800), state.Totals.Total)
}

func TestReducerAddItemClampsToStock(t *testing.T) {
	r := Reducer{}
	state, _ := r.Apply(domain.Cart{}, AddItem{Variant: variant("p1", "v1", 100, 3), Quantity: 2})

	state, out := r.Apply(state, AddItem{Variant: variant("p1", "v1", 100, 3), Quantity: 5})
	assert.True(t, out.Changed)
	assert.True(t, out.Clamped)
	assert.Equal(t, 3, state.Items[0].Quantity)

	unchanged, out := r.Apply(state, AddItem{Variant: variant("p1", "v1", 100, 3), Quantity: 1})
	assert.False(t, out.Changed)
	assert.True(t, out.Clamped)
	assert.Equal(t, state, unchanged)

	soldOut, out := r.Apply(domain.Cart{}, AddItem{Variant: variant("p1", "v1", 100, 0), Quantity: 1})
	assert.False(t, out.Changed)
	assert.Empty(t, soldOut.Items)
}

func TestReducerRemoveItem(t *testing.T) {
	r := Reducer{}
	state, _ := r.Apply(domain.Cart{}, AddItem{Variant: variant("p1", "v1", 100, 5), Quantity: 1})
	state, _ = r.Apply(state, AddItem{Variant: variant("p2", "v2", 200, 5), Quantity: 1})

	same, out := r.Apply(state, RemoveItem{ProductID: "missing", VariantID: "v"})
	assert.False(t, out.Changed)
	assert.Equal(t, state, same)

	state, out = r.Apply(state, RemoveItem{ProductID: "p1", VariantID: "v1"})
	require.True(t, out.Changed)
	require.Len(t, state.Items, 1)
	assert.Equal(t, "p2", state.Items[0].ProductID)
	assert.Equal(t, int64(200), state.Totals.Total)
}

func TestReducerUpdateQuantityValidation(t *testing.T) {
	r := Reducer{}
	state, _ := r.Apply(domain.Cart{}, AddItem{Variant: variant("p1", "v1", 100, 5), Quantity: 1})

	rejected, out := r.Apply(state, UpdateQuantity{ProductID: "p1", VariantID: "v1", Quantity: 6, Variant: variant("p1", "v1", 100, 5)})
	assert.ErrorIs(t, out.Warning, ErrQuantityExceedsStock)
	assert.False(t, out.Changed)
	assert.Equal(t, state, rejected)

	rejected, out = r.Apply(state, UpdateQuantity{ProductID: "p1", VariantID: "v1", Quantity: 0, Variant: variant("p1", "v1", 100, 5)})
	assert.ErrorIs(t, out.Warning, ErrQuantityBelowMinimum)
	assert.Equal(t, state, rejected)

	updated, out := r.Apply(state, UpdateQuantity{ProductID: "p1", VariantID: "v1", Quantity: 4, Variant: variant("p1", "v1", 100, 5)})
	assert.NoError(t, out.Warning)
	assert.True(t, out.Changed)
	assert.Equal(t, 4, updated.Items[0].Quantity)
	assert.Equal(t, int64(400), updated.Totals.Subtotal)
}

func TestReducerAddressesAndClear(t *testing.T) {
	r := Reducer{Pricing: domain.PricingPolicy{FreeShippingThreshold: 10000}}
	ship := domain.Address{Recipient: "Aiko", Line1: "1-2-3", City: "Tokyo", PostalCode: "100-0001", Country: "JP"}

	state, _ := r.Apply(domain.Cart{}, AddItem{Variant: variant("p1", "v1", 500, 5), Quantity: 2})
	state, _ = r.Apply(state, SetShippingAddress{Address: ship})
	state, _ = r.Apply(state, SetBillingAddress{Address: ship})
	state, _ = r.Apply(state, SelectShippingMethod{Method: &domain.ShippingMethod{Code: "std", Price: 350}})
	require.NotNil(t, state.ShippingAddress)
	assert.Equal(t, ship, *state.ShippingAddress)
	assert.Equal(t, int64(1350), state.Totals.Total)

	cleared, out := r.Apply(state, Clear{})
	assert.True(t, out.Changed)
	assert.Empty(t, cleared.Items)
	assert.Equal(t, domain.Totals{}, cleared.Totals)
	assert.NotNil(t, cleared.ShippingAddress)
}

func TestReducerDoesNotMutateInput(t *testing.T) {
	r := Reducer{}
	state, _ := r.Apply(domain.Cart{}, AddItem{Variant: variant("p1", "v1", 100, 5), Quantity: 1})
	before := state.Clone()

	_, _ = r.Apply(state, UpdateQuantity{ProductID: "p1", VariantID: "v1", Quantity: 3, Variant: variant("p1", "v1", 100, 5)})
	_, _ = r.Apply(state, RemoveItem{ProductID: "p1", VariantID: "v1"})

	assert.Equal(t, before, state)
}
