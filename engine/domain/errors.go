package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by ingestion and retrieval.
var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrEmbedding         = errors.New("embedding failed")
	ErrStoreWrite        = errors.New("store write failed")
	ErrStoreQuery        = errors.New("store query failed")
	ErrNoMatchingContent = errors.New("no matching content")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrDocumentNotFound  = errors.New("document not found")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
