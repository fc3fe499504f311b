package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/poiesic/folio/ai"
)

// DefaultDimension is the vector length produced by a MockEmbedder with no explicit dimension.
const DefaultDimension = 64

// MockEmbedder is a test double for ai.Embedder.
// It allows custom behavior injection via function fields.
type MockEmbedder struct {
	// EmbedFunc is called by Embed if set.
	// If nil, uses default deterministic behavior.
	EmbedFunc func(ctx context.Context, text string, mode ai.EmbedMode) ([]float32, error)

	// EmbedBatchFunc is called by EmbedBatch if set.
	// If nil, uses default deterministic behavior.
	EmbedBatchFunc func(ctx context.Context, texts []string, mode ai.EmbedMode) ([][]float32, error)

	dimension int
	mu        sync.Mutex
	callCount int
	modes     []ai.EmbedMode
}

var _ ai.Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder creates a mock embedder with default deterministic behavior.
// Note: Returns concrete type to allow test assertions.
func NewMockEmbedder() *MockEmbedder {
	return NewMockEmbedderWithDimension(DefaultDimension)
}

// NewMockEmbedderWithDimension creates a mock embedder producing vectors of length dim.
func NewMockEmbedderWithDimension(dim int) *MockEmbedder {
	return &MockEmbedder{dimension: dim}
}

func (m *MockEmbedder) record(mode ai.EmbedMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.modes = append(m.modes, mode)
}

// Embed returns a bag-of-words vector for text.
func (m *MockEmbedder) Embed(ctx context.Context, text string, mode ai.EmbedMode) ([]float32, error) {
	m.record(mode)

	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text, mode)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return GenerateVector(text, m.dimension), nil
}

// EmbedBatch returns bag-of-words vectors for multiple texts.
func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string, mode ai.EmbedMode) ([][]float32, error) {
	m.record(mode)

	if m.EmbedBatchFunc != nil {
		return m.EmbedBatchFunc(ctx, texts, mode)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = GenerateVector(text, m.dimension)
	}
	return embeddings, nil
}

// Dimension returns the vector length.
func (m *MockEmbedder) Dimension() int {
	return m.dimension
}

// CallCount returns the number of times any method was called.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Modes returns the embed mode of every call in order.
func (m *MockEmbedder) Modes() []ai.EmbedMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ai.EmbedMode(nil), m.modes...)
}

// Reset clears the call count and injected behavior.
func (m *MockEmbedder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.modes = nil
	m.EmbedFunc = nil
	m.EmbedBatchFunc = nil
}

// GenerateVector creates a deterministic unit vector from the words of text.
// Each lowercased word is hashed into one of dim buckets, so texts that share
// words have positive cosine similarity and unrelated texts score near zero.
func GenerateVector(text string, dim int) []float32 {
	vector := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(w))
		vector[h.Sum32()%uint32(dim)]++
	}

	var sumSquares float32
	for _, v := range vector {
		sumSquares += v * v
	}
	if sumSquares > 0 {
		norm := float32(1.0 / math.Sqrt(float64(sumSquares)))
		for i := range vector {
			vector[i] *= norm
		}
	}
	return vector
}
