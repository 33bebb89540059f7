package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when the gateway is used without its
	// backing store, cache or allocator, or after Close.
	ErrNotInitialized = errors.New("gateway not initialized")

	// ErrPersistence is the class of every PersistenceError.
	ErrPersistence = errors.New("persistence failure")
)

// PersistenceError reports that the object store rejected an operation.
// It matches both ErrPersistence and the underlying store error with errors.Is.
type PersistenceError struct {
	Op   string
	Type string
	ID   string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Type, e.Err)
	}
	return fmt.Sprintf("%s %s@%s: %v", e.Op, e.Type, e.ID, e.Err)
}

// Unwrap exposes ErrPersistence and the store error.
func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

func persistenceError(op, typeName, id string, err error) error {
	return &PersistenceError{Op: op, Type: typeName, ID: id, Err: err}
}
