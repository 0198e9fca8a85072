package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

// OutboxRepository keeps queued side effects in memory.
type OutboxRepository struct {
	mu    sync.Mutex
	tasks map[string]domain.OutboxTask
}

var _ repositories.OutboxRepository = (*OutboxRepository)(nil)

// NewOutboxRepository constructs an empty outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{tasks: make(map[string]domain.OutboxTask)}
}

func (r *OutboxRepository) Enqueue(_ context.Context, task domain.OutboxTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[task.ID]; exists {
		return repositories.NewConflictError("outbox.enqueue", "task", task.ID)
	}
	if task.Status == "" {
		task.Status = domain.OutboxPending
	}
	task.Payload = append([]byte(nil), task.Payload...)
	r.tasks[task.ID] = task
	return nil
}

func (r *OutboxRepository) ClaimDue(_ context.Context, now time.Time, limit int) ([]domain.OutboxTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := make([]domain.OutboxTask, 0)
	for _, task := range r.tasks {
		if task.Status != domain.OutboxPending || task.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, task)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = domain.OutboxProcessing
		due[i].UpdatedAt = now
		r.tasks[due[i].ID] = due[i]
	}
	return due, nil
}

func (r *OutboxRepository) Complete(_ context.Context, taskID string, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return repositories.NewNotFoundError("outbox.complete", "task", taskID)
	}
	task.Status = domain.OutboxDone
	task.UpdatedAt = completedAt
	task.CompletedAt = &completedAt
	task.LastError = ""
	r.tasks[taskID] = task
	return nil
}

func (r *OutboxRepository) Reschedule(_ context.Context, taskID string, attempts int, lastError string, nextAttempt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return repositories.NewNotFoundError("outbox.reschedule", "task", taskID)
	}
	task.Attempts = attempts
	task.LastError = lastError
	if nextAttempt.IsZero() {
		task.Status = domain.OutboxFailed
	} else {
		task.Status = domain.OutboxPending
		task.NextAttemptAt = nextAttempt
	}
	r.tasks[taskID] = task
	return nil
}

func (r *OutboxRepository) CountByStatus(_ context.Context, status domain.OutboxStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, task := range r.tasks {
		if task.Status == status {
			count++
		}
	}
	return count, nil
}

// Tasks returns a snapshot of every task, oldest first.
func (r *OutboxRepository) Tasks() []domain.OutboxTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.OutboxTask, 0, len(r.tasks))
	for _, task := range r.tasks {
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
