package memory

import (
	"context"
	"sync"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

// CartRepository stores cart snapshots in memory. It backs the local cart
// store and, in local development, the remote mirror.
type CartRepository struct {
	mu    sync.RWMutex
	carts map[string]domain.Cart
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs an empty cart repository.
func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[string]domain.Cart)}
}

func (r *CartRepository) Get(_ context.Context, key string) (domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cart, ok := r.carts[key]
	if !ok {
		return domain.Cart{}, repositories.NewNotFoundError("cart.get", "cart", key)
	}
	return cart.Clone(), nil
}

func (r *CartRepository) Save(_ context.Context, key string, cart domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[key] = cart.Clone()
	return nil
}

func (r *CartRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, key)
	return nil
}
