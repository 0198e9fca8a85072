package firestore

import (
	"context"
	"errors"

	"github.com/hanko-field/storefront/internal/domain"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

const cartCollection = "carts"

// CartRepository mirrors cart snapshots into the carts collection keyed by cart key.
type CartRepository struct {
	carts *pfirestore.Collection[cartDocument]
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{carts: pfirestore.NewCollection[cartDocument](provider, cartCollection)}, nil
}

func (r *CartRepository) Get(ctx context.Context, key string) (domain.Cart, error) {
	doc, err := r.carts.Get(ctx, key)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *CartRepository) Save(ctx context.Context, key string, cart domain.Cart) error {
	return r.carts.Set(ctx, key, newCartDocument(cart))
}

func (r *CartRepository) Delete(ctx context.Context, key string) error {
	return r.carts.Delete(ctx, key)
}
