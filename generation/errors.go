package generation

import (
	"errors"
	"fmt"

	"github.com/poiesic/folio/core"
)

var (
	// ErrRetrieverRequired is returned when a retriever is not provided.
	ErrRetrieverRequired = errors.New("retriever required")

	// ErrModelRequired is returned when a language model is not provided.
	ErrModelRequired = errors.New("language model required")

	// ErrEmptyQuery is returned when the question is blank.
	ErrEmptyQuery = fmt.Errorf("%w: query is empty", core.ErrInput)

	// ErrInvalidTransition indicates a state change the engine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrMalformedResponse indicates the model returned no usable choice.
	ErrMalformedResponse = fmt.Errorf("%w: malformed model response", core.ErrProvider)
)
