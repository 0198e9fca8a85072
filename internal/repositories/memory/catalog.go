package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

// CatalogRepository keeps product variants and their stock in memory. It
// satisfies both CatalogRepository and InventoryRepository.
type CatalogRepository struct {
	mu       sync.RWMutex
	variants map[string]domain.ProductVariant
}

var (
	_ repositories.CatalogRepository   = (*CatalogRepository)(nil)
	_ repositories.InventoryRepository = (*CatalogRepository)(nil)
)

// NewCatalogRepository constructs an empty catalog.
func NewCatalogRepository() *CatalogRepository {
	return &CatalogRepository{variants: make(map[string]domain.ProductVariant)}
}

// Put inserts or replaces a variant.
func (r *CatalogRepository) Put(variant domain.ProductVariant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variants[variantKey(variant.ProductID, variant.ID)] = variant
}

func (r *CatalogRepository) GetVariant(_ context.Context, productID, variantID string) (domain.ProductVariant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	variant, ok := r.variants[variantKey(productID, variantID)]
	if !ok {
		return domain.ProductVariant{}, repositories.NewNotFoundError("catalog.getVariant", "variant", productID+"/"+variantID)
	}
	return variant, nil
}

func (r *CatalogRepository) GetStock(_ context.Context, productID, variantID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	variant, ok := r.variants[variantKey(productID, variantID)]
	if !ok {
		return 0, repositories.NewInventoryError("inventory.getStock", repositories.InventoryErrorStockNotFound, productID, variantID, nil)
	}
	return variant.Stock, nil
}

func (r *CatalogRepository) SetStock(_ context.Context, productID, variantID string, stock int, updatedAt time.Time) error {
	if stock < 0 {
		return repositories.NewInventoryError("inventory.setStock", repositories.InventoryErrorInvalidInput, productID, variantID, nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := variantKey(productID, variantID)
	variant, ok := r.variants[key]
	if !ok {
		return repositories.NewInventoryError("inventory.setStock", repositories.InventoryErrorStockNotFound, productID, variantID, nil)
	}
	variant.Stock = stock
	variant.UpdatedAt = updatedAt
	r.variants[key] = variant
	return nil
}

func variantKey(productID, variantID string) string {
	return productID + "/" + variantID
}
