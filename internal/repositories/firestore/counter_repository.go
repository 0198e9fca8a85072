package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

const counterCollection = "counters"

// CounterRepository increments named counters inside Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
	txOpts   []pfirestore.TxOption
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Firestore-backed counter repository.
// A positive txAttempts bounds contention retries per transaction; zero keeps the provider default.
func NewCounterRepository(provider *pfirestore.Provider, txAttempts int) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	repo := &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, counterCollection),
	}
	if txAttempts > 0 {
		repo.txOpts = append(repo.txOpts, pfirestore.WithTxAttempts(txAttempts))
	}
	return repo, nil
}

// Next reads the counter, adds step and writes it back in one transaction. Missing counters start at zero.
func (r *CounterRepository) Next(ctx context.Context, name string, step int64) (int64, error) {
	const op = "counter.next"
	name = strings.TrimSpace(name)
	if name == "" || step <= 0 {
		return 0, repositories.NewCounterError(op, repositories.CounterErrorInvalidInput, "counter name and positive step are required", nil)
	}

	var next int64
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.Ref(ctx, name)
		if err != nil {
			return err
		}
		var current counterDocument
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if err := snap.DataTo(&current); err != nil {
				return err
			}
		case !pfirestore.IsNotFound(err):
			return err
		}
		next = current.Value + step
		return tx.Set(ref, counterDocument{Value: next, UpdatedAt: time.Now().UTC()})
	}, r.txOpts...)
	if err != nil {
		var fsErr *pfirestore.Error
		if errors.As(err, &fsErr) && fsErr.IsConflict() {
			return 0, repositories.NewCounterError(op, repositories.CounterErrorContention, "counter transaction kept aborting", err)
		}
		return 0, repositories.NewCounterError(op, repositories.CounterErrorUnknown, err.Error(), err)
	}
	return next, nil
}
