// Package firestore implements the repository interfaces on Cloud Firestore.
package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

// Registry wires every Firestore repository to one shared provider.
type Registry struct {
	provider  *pfirestore.Provider
	carts     *CartRepository
	catalog   *CatalogRepository
	customers *CustomerRepository
	orders    *OrderRepository
	returns   *ReturnRepository
	counters  *CounterRepository
	outbox    *OutboxRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises repository construction.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	counterTxAttempts int
}

// WithCounterTxAttempts bounds contention retries inside each counter transaction.
func WithCounterTxAttempts(attempts int) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.counterTxAttempts = attempts
	}
}

// NewRegistry builds the repositories. The provider is closed together with the registry.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	var cfg registryConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	reg := &Registry{provider: provider}
	var err error
	if reg.carts, err = NewCartRepository(provider); err != nil {
		return nil, err
	}
	if reg.catalog, err = NewCatalogRepository(provider); err != nil {
		return nil, err
	}
	if reg.customers, err = NewCustomerRepository(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.returns, err = NewReturnRepository(provider); err != nil {
		return nil, err
	}
	if reg.counters, err = NewCounterRepository(provider, cfg.counterTxAttempts); err != nil {
		return nil, err
	}
	if reg.outbox, err = NewOutboxRepository(provider); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }
func (r *Registry) Ping(ctx context.Context) error  { return r.provider.Ping(ctx) }

func (r *Registry) Carts() repositories.CartRepository          { return r.carts }
func (r *Registry) Catalog() repositories.CatalogRepository     { return r.catalog }
func (r *Registry) Inventory() repositories.InventoryRepository { return r.catalog }
func (r *Registry) Customers() repositories.CustomerRepository  { return r.customers }
func (r *Registry) Orders() repositories.OrderRepository        { return r.orders }
func (r *Registry) Returns() repositories.ReturnRepository      { return r.returns }
func (r *Registry) Counters() repositories.CounterRepository    { return r.counters }
func (r *Registry) Outbox() repositories.OutboxRepository       { return r.outbox }

// CatalogStore exposes the concrete catalog for seeding.
func (r *Registry) CatalogStore() *CatalogRepository { return r.catalog }
