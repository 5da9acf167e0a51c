package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput indicates client supplied data violated a field constraint
	// or an immutability rule.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound indicates the referenced task does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrForbidden indicates the authenticated actor may not act for the owner.
	ErrForbidden = errors.New("forbidden")
	// ErrStoreUnavailable indicates the underlying persistence failed. Callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrPartialBulkFailure indicates some but not all entries of a bulk order
	// update were persisted.
	ErrPartialBulkFailure = errors.New("partial bulk update failure")
)

// ValidationError describes a rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// BulkUpdateError reports the ids whose order update failed.
type BulkUpdateError struct {
	Failed []string
	Total  int
	Cause  error
}

func (e *BulkUpdateError) Error() string {
	return fmt.Sprintf("bulk order update: %d of %d failed (%s): %v", len(e.Failed), e.Total, strings.Join(e.Failed, ","), e.Cause)
}

// Is matches ErrPartialBulkFailure when at least one entry succeeded, and
// ErrStoreUnavailable when every entry failed.
func (e *BulkUpdateError) Is(target error) bool {
	if e.Partial() {
		return target == ErrPartialBulkFailure
	}
	return target == ErrStoreUnavailable
}

func (e *BulkUpdateError) Unwrap() error { return e.Cause }

// Partial reports whether some entries were persisted.
func (e *BulkUpdateError) Partial() bool {
	return len(e.Failed) > 0 && len(e.Failed) < e.Total
}
