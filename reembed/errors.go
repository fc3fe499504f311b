package reembed

import (
	"errors"
	"fmt"

	"github.com/poiesic/folio/core"
)

var (
	// ErrStoreRequired is returned when a store is not provided.
	ErrStoreRequired = errors.New("store required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrDimensionChangeInPlace is returned when a collection would be
	// re-embedded into itself with a different dimension.
	ErrDimensionChangeInPlace = fmt.Errorf("%w: cannot change the dimension of a collection in place", core.ErrInput)
)
