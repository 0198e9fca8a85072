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

const customerCollection = "customers"

// CustomerRepository persists buyer profiles keyed by user id.
type CustomerRepository struct {
	provider  *pfirestore.Provider
	customers *pfirestore.Collection[customerDocument]
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)

// NewCustomerRepository constructs a Firestore-backed customer repository.
func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	return &CustomerRepository{
		provider:  provider,
		customers: pfirestore.NewCollection[customerDocument](provider, customerCollection),
	}, nil
}

// Upsert replaces the profile but keeps the original creation time.
func (r *CustomerRepository) Upsert(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	id := strings.TrimSpace(customer.ID)
	if id == "" {
		return domain.Customer{}, errors.New("customer repository: id is required")
	}
	now := customer.UpdatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var saved customerDocument
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.customers.Ref(ctx, id)
		if err != nil {
			return err
		}
		doc := customerDocument{
			Email:           customer.Email,
			DisplayName:     customer.DisplayName,
			Locale:          customer.Locale,
			ShippingAddress: newAddressDocumentPtr(customer.ShippingAddress),
			CreatedAt:       customer.CreatedAt.UTC(),
			UpdatedAt:       now,
		}
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			var existing customerDocument
			if err := snap.DataTo(&existing); err != nil {
				return err
			}
			if !existing.CreatedAt.IsZero() {
				doc.CreatedAt = existing.CreatedAt
			}
		case !pfirestore.IsNotFound(err):
			return err
		}
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = now
		}
		saved = doc
		return tx.Set(ref, doc)
	})
	if err != nil {
		return domain.Customer{}, pfirestore.WrapError("customers.upsert", err)
	}
	return saved.toDomain(id), nil
}

func (r *CustomerRepository) Get(ctx context.Context, userID string) (domain.Customer, error) {
	doc, err := r.customers.Get(ctx, userID)
	if err != nil {
		return domain.Customer{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}
