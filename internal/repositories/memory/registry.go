// Package memory provides in-process repository implementations for tests and local development.
package memory

import (
	"context"

	"github.com/hanko-field/storefront/internal/repositories"
)

// Registry bundles the in-memory repositories behind repositories.Registry.
type Registry struct {
	carts     *CartRepository
	catalog   *CatalogRepository
	customers *CustomerRepository
	orders    *OrderRepository
	returns   *ReturnRepository
	counters  *CounterRepository
	outbox    *OutboxRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs an empty registry. The catalog doubles as the inventory store.
func NewRegistry() *Registry {
	return &Registry{
		carts:     NewCartRepository(),
		catalog:   NewCatalogRepository(),
		customers: NewCustomerRepository(),
		orders:    NewOrderRepository(),
		returns:   NewReturnRepository(),
		counters:  NewCounterRepository(),
		outbox:    NewOutboxRepository(),
	}
}

func (r *Registry) Close(context.Context) error { return nil }
func (r *Registry) Ping(context.Context) error  { return nil }

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
