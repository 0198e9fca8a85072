package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

// ReturnRepository stores return requests in memory.
type ReturnRepository struct {
	mu       sync.RWMutex
	requests map[string]domain.ReturnRequest
}

var _ repositories.ReturnRepository = (*ReturnRepository)(nil)

// NewReturnRepository constructs an empty return repository.
func NewReturnRepository() *ReturnRepository {
	return &ReturnRepository{requests: make(map[string]domain.ReturnRequest)}
}

func (r *ReturnRepository) Insert(_ context.Context, request domain.ReturnRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.requests[request.ID]; exists {
		return repositories.NewConflictError("return.insert", "return request", request.ID)
	}
	r.requests[request.ID] = cloneReturn(request)
	return nil
}

func (r *ReturnRepository) Update(_ context.Context, request domain.ReturnRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.requests[request.ID]; !exists {
		return repositories.NewNotFoundError("return.update", "return request", request.ID)
	}
	r.requests[request.ID] = cloneReturn(request)
	return nil
}

func (r *ReturnRepository) FindByID(_ context.Context, returnID string) (domain.ReturnRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	request, ok := r.requests[returnID]
	if !ok {
		return domain.ReturnRequest{}, repositories.NewNotFoundError("return.find", "return request", returnID)
	}
	return cloneReturn(request), nil
}

func (r *ReturnRepository) List(_ context.Context, filter repositories.ReturnListFilter) ([]domain.ReturnRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ReturnRequest, 0)
	for _, request := range r.requests {
		if filter.OrderID != "" && request.OrderID != filter.OrderID {
			continue
		}
		if filter.UserID != "" && request.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && request.Status != filter.Status {
			continue
		}
		out = append(out, cloneReturn(request))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func cloneReturn(request domain.ReturnRequest) domain.ReturnRequest {
	out := request
	out.Items = append([]domain.ReturnItem(nil), request.Items...)
	if request.RefundAmount != nil {
		amount := *request.RefundAmount
		out.RefundAmount = &amount
	}
	if request.RefundDate != nil {
		date := *request.RefundDate
		out.RefundDate = &date
	}
	return out
}
