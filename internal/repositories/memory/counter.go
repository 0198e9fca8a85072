package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/hanko-field/storefront/internal/repositories"
)

// CounterRepository increments named counters under a mutex, which gives the
// same read-increment-write atomicity as a store transaction.
type CounterRepository struct {
	mu     sync.Mutex
	values map[string]int64
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs an empty counter repository.
func NewCounterRepository() *CounterRepository {
	return &CounterRepository{values: make(map[string]int64)}
}

func (r *CounterRepository) Next(ctx context.Context, name string, step int64) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" || step <= 0 {
		return 0, repositories.NewCounterError("counter.next", repositories.CounterErrorInvalidInput, "counter name and positive step are required", nil)
	}
	if err := ctx.Err(); err != nil {
		return 0, repositories.NewCounterError("counter.next", repositories.CounterErrorUnknown, err.Error(), err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[name] += step
	return r.values[name], nil
}

// Value returns the current value of a counter.
func (r *CounterRepository) Value(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[name]
}
