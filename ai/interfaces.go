package ai

import (
	"context"

	"github.com/tmc/langchaingo/llms"
)

// EmbedMode selects how a provider encodes text. Some models use asymmetric
// encodings for stored passages and for the questions asked against them.
type EmbedMode int

const (
	// ModeDocument encodes passages that will be stored and searched.
	ModeDocument EmbedMode = iota + 1
	// ModeQuery encodes a question used to search stored passages.
	ModeQuery
)

func (m EmbedMode) String() string {
	switch m {
	case ModeDocument:
		return "document"
	case ModeQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Embedder generates fixed-length vector embeddings from text.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// Embed generates a vector embedding for a single text string.
	// Fails with an error wrapping core.ErrInput for empty or oversized text and
	// core.ErrProvider when the provider is unreachable or returns malformed data.
	// A zero vector is never substituted for a failure.
	Embed(ctx context.Context, text string, mode EmbedMode) ([]float32, error)

	// EmbedBatch generates vector embeddings for multiple texts.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedBatch(ctx context.Context, texts []string, mode EmbedMode) ([][]float32, error)

	// Dimension returns the length of every vector this embedder produces.
	Dimension() int
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// ChatModel returns the language model used for answer generation.
	// The model must support tool calling.
	ChatModel() llms.Model

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
