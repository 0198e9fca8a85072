package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	"github.com/hanko-field/storefront/internal/domain"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

const returnCollection = "returnRequests"

// ReturnRepository stores return requests keyed by their formatted id.
type ReturnRepository struct {
	returns *pfirestore.Collection[returnDocument]
}

var _ repositories.ReturnRepository = (*ReturnRepository)(nil)

// NewReturnRepository constructs a Firestore-backed return repository.
func NewReturnRepository(provider *pfirestore.Provider) (*ReturnRepository, error) {
	if provider == nil {
		return nil, errors.New("return repository requires firestore provider")
	}
	return &ReturnRepository{returns: pfirestore.NewCollection[returnDocument](provider, returnCollection)}, nil
}

func (r *ReturnRepository) Insert(ctx context.Context, request domain.ReturnRequest) error {
	return r.returns.Create(ctx, request.ID, newReturnDocument(request))
}

func (r *ReturnRepository) Update(ctx context.Context, request domain.ReturnRequest) error {
	return r.returns.Replace(ctx, request.ID, newReturnDocument(request))
}

func (r *ReturnRepository) FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
	doc, err := r.returns.Get(ctx, returnID)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ReturnRepository) List(ctx context.Context, filter repositories.ReturnListFilter) ([]domain.ReturnRequest, error) {
	docs, err := r.returns.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.OrderID != "" {
			q = q.Where("orderId", "==", filter.OrderID)
		}
		if filter.UserID != "" {
			q = q.Where("userId", "==", filter.UserID)
		}
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		q = q.OrderBy("createdAt", firestore.Desc)
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.ReturnRequest, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out, nil
}
