package domain

import "errors"

var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates a unique constraint was violated.
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict indicates an optimistic concurrency check failed.
	ErrConflict = errors.New("conflict")
	// ErrValidation marks input rejected before any state change.
	ErrValidation = errors.New("validation failed")
)
