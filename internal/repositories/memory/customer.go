package memory

import (
	"context"
	"sync"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

// CustomerRepository stores customer profiles in memory.
type CustomerRepository struct {
	mu        sync.RWMutex
	customers map[string]domain.Customer
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)

// NewCustomerRepository constructs an empty customer repository.
func NewCustomerRepository() *CustomerRepository {
	return &CustomerRepository{customers: make(map[string]domain.Customer)}
}

func (r *CustomerRepository) Upsert(_ context.Context, customer domain.Customer) (domain.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.customers[customer.ID]; ok && !existing.CreatedAt.IsZero() {
		customer.CreatedAt = existing.CreatedAt
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = customer.UpdatedAt
	}
	r.customers[customer.ID] = customer
	return customer, nil
}

func (r *CustomerRepository) Get(_ context.Context, userID string) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	customer, ok := r.customers[userID]
	if !ok {
		return domain.Customer{}, repositories.NewNotFoundError("customer.get", "customer", userID)
	}
	return customer, nil
}
