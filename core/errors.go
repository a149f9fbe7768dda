package core

import "errors"

// Shared error taxonomy. Subsystems wrap these with context so callers
// can classify failures with errors.Is across package boundaries.
var (
	// ErrValidation marks rejected input (empty text, bad arguments).
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks lookups for ids that do not exist.
	ErrNotFound = errors.New("not found")
)
