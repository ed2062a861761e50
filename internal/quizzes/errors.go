package quizzes

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a missing or malformed field. Client-fixable.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a quiz or question that does not exist or is deleted.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a duplicate unique field.
	ErrConflict = errors.New("conflict")
	// ErrStorage marks a persistence failure. Details stay in the logs.
	ErrStorage = errors.New("storage failure")
)

// ValidationError names the rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StorageError wraps a failure of the store or the blob store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

// Is matches ErrStorage.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// storageErr passes domain errors through and wraps anything else.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrValidation) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func quizNotFound(id fmt.Stringer) error {
	return fmt.Errorf("quiz %s: %w", id, ErrNotFound)
}

func questionNotFound(id fmt.Stringer) error {
	return fmt.Errorf("question %s: %w", id, ErrNotFound)
}
