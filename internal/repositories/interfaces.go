package repositories

import (
	"context"
	"time"

	"github.com/hanko-field/storefront/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Catalog() CatalogRepository
	Inventory() InventoryRepository
	Customers() CustomerRepository
	Orders() OrderRepository
	Returns() ReturnRepository
	Counters() CounterRepository
	Outbox() OutboxRepository
	Ping(ctx context.Context) error
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartRepository persists cart snapshots keyed by cart key (user or guest session).
type CartRepository interface {
	Get(ctx context.Context, key string) (domain.Cart, error)
	Save(ctx context.Context, key string, cart domain.Cart) error
	Delete(ctx context.Context, key string) error
}

// CatalogRepository is the read-only product catalog consumed by the core.
type CatalogRepository interface {
	// GetVariant returns a RepositoryError with IsNotFound when the variant does not exist.
	GetVariant(ctx context.Context, productID, variantID string) (domain.ProductVariant, error)
}

// InventoryRepository reads and writes per-variant stock counts.
type InventoryRepository interface {
	GetStock(ctx context.Context, productID, variantID string) (int, error)
	SetStock(ctx context.Context, productID, variantID string, stock int, updatedAt time.Time) error
}

// CustomerRepository persists buyer profiles keyed by user id.
type CustomerRepository interface {
	Upsert(ctx context.Context, customer domain.Customer) (domain.Customer, error)
	Get(ctx context.Context, userID string) (domain.Customer, error)
}

// OrderListFilter narrows order queries. Fields are matched by equality.
type OrderListFilter struct {
	UserID           string
	Status           domain.OrderStatus
	InventoryPending bool
	Limit            int
}

// OrderRepository persists orders keyed by the formatted order id.
type OrderRepository interface {
	// Insert returns a RepositoryError with IsConflict when the id already exists.
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
}

// ReturnListFilter narrows return request queries by equality.
type ReturnListFilter struct {
	OrderID string
	UserID  string
	Status  domain.ReturnStatus
	Limit   int
}

// ReturnRepository persists return requests keyed by the formatted return id.
type ReturnRepository interface {
	Insert(ctx context.Context, request domain.ReturnRequest) error
	Update(ctx context.Context, request domain.ReturnRequest) error
	FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error)
	List(ctx context.Context, filter ReturnListFilter) ([]domain.ReturnRequest, error)
}

// CounterRepository provides atomic sequence increments per namespace.
type CounterRepository interface {
	// Next atomically increments the named counter by step and returns the new value.
	// Missing counters start from zero.
	Next(ctx context.Context, name string, step int64) (int64, error)
}

// OutboxRepository stores queued side effects until a worker applies them.
type OutboxRepository interface {
	Enqueue(ctx context.Context, task domain.OutboxTask) error
	// ClaimDue marks up to limit pending tasks whose NextAttemptAt is not after now as processing and returns them.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.OutboxTask, error)
	Complete(ctx context.Context, taskID string, completedAt time.Time) error
	// Reschedule records a failed attempt. A zero nextAttempt marks the task permanently failed.
	Reschedule(ctx context.Context, taskID string, attempts int, lastError string, nextAttempt time.Time) error
	CountByStatus(ctx context.Context, status domain.OutboxStatus) (int, error)
}
