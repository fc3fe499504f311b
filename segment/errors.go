package segment

import (
	"fmt"

	"github.com/poiesic/folio/core"
)

var (
	// ErrInvalidMaxChars is returned when the maximum chunk size is not positive.
	ErrInvalidMaxChars = fmt.Errorf("%w: max chars must be positive", core.ErrInput)

	// ErrInvalidOverlap is returned when the overlap is negative.
	ErrInvalidOverlap = fmt.Errorf("%w: overlap cannot be negative", core.ErrInput)
)
