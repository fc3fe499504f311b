package ingestion

import (
	"errors"
	"fmt"

	"github.com/poiesic/folio/core"
)

var (
	// ErrStoreRequired is returned when a vector store is not provided.
	ErrStoreRequired = errors.New("vector store required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrNoText is recorded for documents that yield no text after extraction.
	ErrNoText = fmt.Errorf("%w: no text extracted", core.ErrInput)

	// ErrFetchFailed is recorded for documents that could not be retrieved.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrNotFound is recorded for documents whose source reports them missing.
	ErrNotFound = fmt.Errorf("%w: document not found", ErrFetchFailed)

	// ErrInvalidSitemap is returned when a sitemap cannot be parsed.
	ErrInvalidSitemap = fmt.Errorf("%w: invalid sitemap", core.ErrInput)
)
