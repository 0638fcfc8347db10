package audit

import "errors"

// Sentinel errors for audit store operations.
var (
	// ErrNotFound is returned when a record does not exist or belongs to
	// another tenant.
	ErrNotFound = errors.New("execution record not found")

	// ErrConflict is returned when a record with the given ID already exists.
	ErrConflict = errors.New("execution record already exists")
)
