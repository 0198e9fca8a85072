package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/hanko-field/storefront/internal/domain"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

const variantCollection = "variants"

// CatalogRepository reads variants and their stock from the variants collection. Stock lives on
// the variant document, so the same type serves as the inventory repository.
type CatalogRepository struct {
	variants *pfirestore.Collection[variantDocument]
}

var (
	_ repositories.CatalogRepository   = (*CatalogRepository)(nil)
	_ repositories.InventoryRepository = (*CatalogRepository)(nil)
)

// NewCatalogRepository constructs a Firestore-backed catalog.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{variants: pfirestore.NewCollection[variantDocument](provider, variantCollection)}, nil
}

// Put writes a variant document. Used for seeding.
func (r *CatalogRepository) Put(ctx context.Context, variant domain.ProductVariant) error {
	return r.variants.Set(ctx, variantDocumentID(variant.ProductID, variant.ID), newVariantDocument(variant))
}

func (r *CatalogRepository) GetVariant(ctx context.Context, productID, variantID string) (domain.ProductVariant, error) {
	doc, err := r.variants.Get(ctx, variantDocumentID(productID, variantID))
	if err != nil {
		return domain.ProductVariant{}, err
	}
	return doc.Data.toDomain(), nil
}

func (r *CatalogRepository) GetStock(ctx context.Context, productID, variantID string) (int, error) {
	doc, err := r.variants.Get(ctx, variantDocumentID(productID, variantID))
	if err != nil {
		return 0, wrapInventoryError("inventory.getStock", productID, variantID, err)
	}
	return doc.Data.Stock, nil
}

func (r *CatalogRepository) SetStock(ctx context.Context, productID, variantID string, stock int, updatedAt time.Time) error {
	if stock < 0 || strings.TrimSpace(productID) == "" || strings.TrimSpace(variantID) == "" {
		return repositories.NewInventoryError("inventory.setStock", repositories.InventoryErrorInvalidInput, productID, variantID, nil)
	}
	ref, err := r.variants.Ref(ctx, variantDocumentID(productID, variantID))
	if err != nil {
		return wrapInventoryError("inventory.setStock", productID, variantID, err)
	}
	_, err = ref.Update(ctx, []firestore.Update{
		{Path: "stock", Value: stock},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
	return wrapInventoryError("inventory.setStock", productID, variantID, pfirestore.WrapError("variants.update", err))
}

func wrapInventoryError(op, productID, variantID string, err error) error {
	if err == nil {
		return nil
	}
	if pfirestore.IsNotFound(err) {
		return repositories.NewInventoryError(op, repositories.InventoryErrorStockNotFound, productID, variantID, err)
	}
	return repositories.NewInventoryError(op, repositories.InventoryErrorUnknown, productID, variantID, err)
}

// variantDocumentID joins the ids with a separator that cannot appear in a Firestore path segment.
func variantDocumentID(productID, variantID string) string {
	return strings.TrimSpace(productID) + "__" + strings.TrimSpace(variantID)
}
