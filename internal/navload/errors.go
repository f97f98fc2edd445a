package navload

import (
	"errors"
	"fmt"

	"navload/internal/schema"
)

var (
	// ErrUnsupportedRelationship is returned while building a plan for a
	// navigation the loader cannot express: composite foreign keys, unmapped
	// navigations and many-to-many without a bridge entity.
	ErrUnsupportedRelationship = schema.ErrUnsupportedRelationship

	// ErrInvalidChainState is returned when ThenInclude has no chain to extend
	// or the node being extended already has a successor.
	ErrInvalidChainState = errors.New("navload: invalid chain state")

	// ErrIntegrityViolation is returned when fetched data contradicts the
	// relationship metadata, e.g. a non-null foreign key without a target row.
	ErrIntegrityViolation = errors.New("navload: integrity violation")

	// ErrNotFound is returned by First, Last and Single when no record matches.
	ErrNotFound = errors.New("navload: record not found")

	// ErrNotSingular is returned by Single and SingleOrDefault when more than
	// one record matches.
	ErrNotSingular = errors.New("navload: record not singular")
)

// IntegrityViolationError describes the record and navigation that failed.
type IntegrityViolationError struct {
	Type       string
	Navigation string
	Key        any
	Reason     string
}

func (e *IntegrityViolationError) Error() string {
	return fmt.Sprintf("navload: integrity violation on %s.%s (key=%v): %s", e.Type, e.Navigation, e.Key, e.Reason)
}

// Is allows errors.Is(err, ErrIntegrityViolation).
func (e *IntegrityViolationError) Is(target error) bool {
	return target == ErrIntegrityViolation
}

// NotFoundError names the root type a take-one terminal found nothing for.
type NotFoundError struct {
	Type string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("navload: %s not found", e.Type)
}

// Is allows errors.Is(err, ErrNotFound).
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotSingularError reports that Single matched more than one record.
type NotSingularError struct {
	Type string
}

func (e *NotSingularError) Error() string {
	return fmt.Sprintf("navload: %s not singular", e.Type)
}

// Is allows errors.Is(err, ErrNotSingular).
func (e *NotSingularError) Is(target error) bool {
	return target == ErrNotSingular
}

func chainStateError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidChainState, fmt.Sprintf(format, args...))
}
