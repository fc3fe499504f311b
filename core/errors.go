package core

import (
	"errors"
	"fmt"
)

// Error taxonomy shared across packages. Wrap these with fmt.Errorf("%w: ...")
// and test with errors.Is.
var (
	// ErrInput indicates empty or oversized text or malformed configuration.
	// Input errors are never retried.
	ErrInput = errors.New("invalid input")

	// ErrProvider indicates an embedding or generation API failure.
	ErrProvider = errors.New("provider error")

	// ErrStore indicates a vector store failure.
	ErrStore = errors.New("store error")

	// ErrStoreUnavailable indicates the vector store or the collection could not be reached.
	ErrStoreUnavailable = fmt.Errorf("%w: unavailable", ErrStore)

	// ErrSchemaConflict indicates a collection exists with different parameters.
	ErrSchemaConflict = fmt.Errorf("%w: schema conflict", ErrStore)

	// ErrDimensionMismatch indicates a vector length differs from the collection dimension.
	ErrDimensionMismatch = fmt.Errorf("%w: dimension mismatch", ErrInput)

	// ErrEvidenceInsufficient marks a query for which retrieval produced no usable evidence.
	// It is a normal outcome and triggers the fallback answer.
	ErrEvidenceInsufficient = errors.New("evidence insufficient")

	// ErrEmptyText indicates text that is empty after trimming.
	ErrEmptyText = fmt.Errorf("%w: text cannot be empty", ErrInput)

	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = fmt.Errorf("%w: invalid chunk", ErrInput)
)

// SchemaConflictError reports the parameters of a collection that could not be reconciled.
type SchemaConflictError struct {
	Collection string
	Want       Collection
	Have       Collection
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("collection %q exists with dimension=%d metric=%s, requested dimension=%d metric=%s",
		e.Collection, e.Have.Dimension, e.Have.Metric, e.Want.Dimension, e.Want.Metric)
}

// Unwrap lets errors.Is match ErrSchemaConflict.
func (e *SchemaConflictError) Unwrap() error {
	return ErrSchemaConflict
}

// IsRetryable reports whether an operation that failed with err may be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInput) || errors.Is(err, ErrSchemaConflict) {
		return false
	}
	return errors.Is(err, ErrProvider) || errors.Is(err, ErrStoreUnavailable)
}
