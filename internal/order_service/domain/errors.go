package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOrderNotFound indicates no order matches the given identifier.
	ErrOrderNotFound = errors.New("order not found")

	// ErrDuplicateOrder is the store-abstracted uniqueness-violation kind:
	// repositories translate their store-specific duplicate-key errors
	// (e.g. PostgreSQL 23505) into this sentinel so callers never inspect
	// provider error codes or strings.
	ErrDuplicateOrder = errors.New("order with this external id already exists")
)

// ValidationError reports the required fields missing from an inbound order
// payload. It is raised before any persistence attempt.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order payload missing required fields: %s", strings.Join(e.Missing, ", "))
}
