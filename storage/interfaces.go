package storage

import (
	"context"

	"github.com/poiesic/folio/core"
)

// VectorStore persists (id, vector, payload) records in named collections and
// answers k-nearest-neighbor queries by cosine similarity.
// Implementations must be thread-safe and support concurrent access.
type VectorStore interface {
	// EnsureCollection creates the collection if absent.
	// A collection that exists with the same parameters is left untouched.
	// A collection that exists with different parameters is never recreated;
	// the call fails with *core.SchemaConflictError.
	EnsureCollection(ctx context.Context, name string, dimension int, metric core.Metric) error

	// DescribeCollection returns the parameters of an existing collection.
	// Returns ErrCollectionNotFound if it does not exist.
	DescribeCollection(ctx context.Context, name string) (core.Collection, error)

	// Upsert inserts or overwrites records by ID.
	// Each record's vector and payload are written together; a concurrent
	// reader never observes a vector from one call with a payload from another.
	// Vectors whose length differs from the collection dimension are rejected.
	Upsert(ctx context.Context, collection string, records ...core.Record) error

	// Query returns up to k records ranked by cosine similarity, highest first.
	// An empty collection yields an empty result, never an error.
	Query(ctx context.Context, collection string, vector []float32, k int) ([]core.ScoredRecord, error)

	// Count returns the number of records held by the collection.
	Count(ctx context.Context, collection string) (int, error)

	// DeleteBySource removes the records whose payload source_reference is
	// sourceReference, except those whose IDs are listed in keep, and returns
	// how many were removed. A source with no records is not an error.
	DeleteBySource(ctx context.Context, collection, sourceReference string, keep ...core.ID) (int, error)

	// Close closes the storage backend and releases resources.
	Close() error
}

// Scanner visits every record of a collection. Both stores implement it.
type Scanner interface {
	// Scan calls fn with successive batches of at most batchSize records in
	// ascending ID order. Iteration stops at the first error returned by fn.
	// Records upserted while a scan is running may or may not be visited.
	Scan(ctx context.Context, collection string, batchSize int, fn func([]core.Record) error) error
}
