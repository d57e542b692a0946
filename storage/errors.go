package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
)
