package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

// Outbox task kinds.
const (
	OutboxKindCartMirror        = "cart.mirror"
	OutboxKindEventPublish      = "event.publish"
	OutboxKindNotificationRetry = "notification.retry"
)

// ErrOutboxInvalidInput indicates a task could not be queued as described.
var ErrOutboxInvalidInput = errors.New("outbox: invalid input")

// OutboxEnqueuer records a side effect for asynchronous delivery.
type OutboxEnqueuer interface {
	Enqueue(ctx context.Context, kind, key string, payload any) (OutboxTask, error)
}

// OutboxHandler performs one queued side effect.
type OutboxHandler func(ctx context.Context, task OutboxTask) error

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// OutboxDeps configures the enqueuer.
type OutboxDeps struct {
	Repository repositories.OutboxRepository
	Clock      func() time.Time
	IDGen      func() string
}

type outbox struct {
	repo  repositories.OutboxRepository
	clock func() time.Time
	newID func() string
}

// NewOutbox constructs an enqueuer on top of the outbox repository.
func NewOutbox(deps OutboxDeps) (OutboxEnqueuer, error) {
	if deps.Repository == nil {
		return nil, errors.New("outbox: repository is required")
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &outbox{
		repo:  deps.Repository,
		clock: utcClock(deps.Clock),
		newID: idGen,
	}, nil
}

func (o *outbox) Enqueue(ctx context.Context, kind, key string, payload any) (OutboxTask, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return OutboxTask{}, fmt.Errorf("%w: kind is required", ErrOutboxInvalidInput)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return OutboxTask{}, fmt.Errorf("%w: encode %s payload: %v", ErrOutboxInvalidInput, kind, err)
	}
	now := o.clock()
	task := OutboxTask{
		ID:            o.newID(),
		Kind:          kind,
		Key:           key,
		Payload:       raw,
		Status:        domain.OutboxPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.repo.Enqueue(ctx, task); err != nil {
		return OutboxTask{}, err
	}
	return task, nil
}
