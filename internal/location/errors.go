package location

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced identifier does not resolve in the tree.
	ErrNotFound = errors.New("not found")

	// ErrInvalidSelection is returned when a selection violates parent/child consistency.
	ErrInvalidSelection = errors.New("invalid selection")

	// ErrEmptyName is returned when a label has no plain name.
	ErrEmptyName = errors.New("name is required")

	// ErrInvalidIcon is returned when a label icon is not a single icon token.
	ErrInvalidIcon = errors.New("icon must be a single emoji or symbol")

	// ErrLoad is returned when a hierarchy snapshot cannot be loaded.
	ErrLoad = errors.New("load hierarchy")
)

// NotFoundError reports a missing entity of a given kind.
type NotFoundError struct {
	Kind Kind
	ID   int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d: not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidSelectionError reports a rejected selector transition.
type InvalidSelectionError struct {
	Kind   Kind
	ID     int
	Reason string
}

func (e *InvalidSelectionError) Error() string {
	return fmt.Sprintf("select %s %d: %s", e.Kind, e.ID, e.Reason)
}

func (e *InvalidSelectionError) Unwrap() error { return ErrInvalidSelection }

// LoadError reports why a hierarchy snapshot was rejected or could not be fetched.
// The tree is always empty after a LoadError.
type LoadError struct {
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load hierarchy: %s: %v", e.Reason, e.Err)
	}
	return "load hierarchy: " + e.Reason
}

func (e *LoadError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrLoad, e.Err}
	}
	return []error{ErrLoad}
}
