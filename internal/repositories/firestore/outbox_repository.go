package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"

	"github.com/hanko-field/storefront/internal/domain"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

const outboxCollection = "outbox"

// OutboxRepository stores queued side effects. Claiming runs in a transaction so two workers
// never process the same task.
type OutboxRepository struct {
	provider *pfirestore.Provider
	tasks    *pfirestore.Collection[outboxDocument]
}

var _ repositories.OutboxRepository = (*OutboxRepository)(nil)

// NewOutboxRepository constructs a Firestore-backed outbox.
func NewOutboxRepository(provider *pfirestore.Provider) (*OutboxRepository, error) {
	if provider == nil {
		return nil, errors.New("outbox repository requires firestore provider")
	}
	return &OutboxRepository{
		provider: provider,
		tasks:    pfirestore.NewCollection[outboxDocument](provider, outboxCollection),
	}, nil
}

func (r *OutboxRepository) Enqueue(ctx context.Context, task domain.OutboxTask) error {
	if task.Status == "" {
		task.Status = domain.OutboxPending
	}
	return r.tasks.Create(ctx, task.ID, newOutboxDocument(task))
}

func (r *OutboxRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.OutboxTask, error) {
	coll, err := r.tasks.Collection(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Where("status", "==", string(domain.OutboxPending)).
		Where("nextAttemptAt", "<=", now.UTC()).
		OrderBy("nextAttemptAt", firestore.Asc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var claimed []domain.OutboxTask
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		claimed = claimed[:0]
		iter := tx.Documents(query)
		defer iter.Stop()

		var snaps []*firestore.DocumentSnapshot
		for {
			snap, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return err
			}
			snaps = append(snaps, snap)
		}

		for _, snap := range snaps {
			doc, err := r.tasks.Decode(snap)
			if err != nil {
				return err
			}
			task := doc.Data.toDomain(doc.ID)
			task.Status = domain.OutboxProcessing
			task.UpdatedAt = now
			if err := tx.Update(snap.Ref, []firestore.Update{
				{Path: "status", Value: string(domain.OutboxProcessing)},
				{Path: "updatedAt", Value: now.UTC()},
			}); err != nil {
				return err
			}
			claimed = append(claimed, task)
		}
		return nil
	})
	if err != nil {
		return nil, pfirestore.WrapError("outbox.claim", err)
	}
	return claimed, nil
}

func (r *OutboxRepository) Complete(ctx context.Context, taskID string, completedAt time.Time) error {
	return r.update(ctx, "outbox.complete", taskID, []firestore.Update{
		{Path: "status", Value: string(domain.OutboxDone)},
		{Path: "updatedAt", Value: completedAt.UTC()},
		{Path: "completedAt", Value: completedAt.UTC()},
		{Path: "lastError", Value: firestore.Delete},
	})
}

func (r *OutboxRepository) Reschedule(ctx context.Context, taskID string, attempts int, lastError string, nextAttempt time.Time) error {
	updates := []firestore.Update{
		{Path: "attempts", Value: attempts},
		{Path: "lastError", Value: lastError},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}
	if nextAttempt.IsZero() {
		updates = append(updates, firestore.Update{Path: "status", Value: string(domain.OutboxFailed)})
	} else {
		updates = append(updates,
			firestore.Update{Path: "status", Value: string(domain.OutboxPending)},
			firestore.Update{Path: "nextAttemptAt", Value: nextAttempt.UTC()},
		)
	}
	return r.update(ctx, "outbox.reschedule", taskID, updates)
}

func (r *OutboxRepository) CountByStatus(ctx context.Context, status domain.OutboxStatus) (int, error) {
	coll, err := r.tasks.Collection(ctx)
	if err != nil {
		return 0, err
	}
	query := coll.Where("status", "==", string(status))
	result, err := query.NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("outbox.count", err)
	}
	value, ok := result["total"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("outbox.count: unexpected aggregation result %T", result["total"])
	}
	return int(value.GetIntegerValue()), nil
}

func (r *OutboxRepository) update(ctx context.Context, op, taskID string, updates []firestore.Update) error {
	ref, err := r.tasks.Ref(ctx, taskID)
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, updates)
	return pfirestore.WrapError(op, err)
}
