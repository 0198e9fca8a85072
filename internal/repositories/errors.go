package repositories

import "fmt"

// StoreError is the generic RepositoryError returned by adapters without a specialised error type.
type StoreError struct {
	Op          string
	Entity      string
	ID          string
	notFound    bool
	conflict    bool
	unavailable bool
	Err         error
}

// NewNotFoundError reports a missing record.
func NewNotFoundError(op, entity, id string) *StoreError {
	return &StoreError{Op: op, Entity: entity, ID: id, notFound: true}
}

// NewConflictError reports a write that collided with an existing record.
func NewConflictError(op, entity, id string) *StoreError {
	return &StoreError{Op: op, Entity: entity, ID: id, conflict: true}
}

// NewUnavailableError wraps a transient backend failure.
func NewUnavailableError(op, entity, id string, err error) *StoreError {
	return &StoreError{Op: op, Entity: entity, ID: id, unavailable: true, Err: err}
}

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	var reason string
	switch {
	case e.notFound:
		reason = "not found"
	case e.conflict:
		reason = "already exists"
	case e.unavailable:
		reason = "unavailable"
	default:
		reason = "failed"
	}
	msg := fmt.Sprintf("%s: %s %q %s", e.Op, e.Entity, e.ID, reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.notFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.conflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.unavailable }
