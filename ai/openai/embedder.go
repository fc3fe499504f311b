package openai

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
// Document mode maps to EmbedDocuments and query mode to EmbedQuery.
type Embedder struct {
	embedder      embeddings.Embedder
	dimension     int
	maxInputChars int
	timeout       time.Duration
	retry         core.RetryPolicy
	cache         *lru.Cache[string, []float32]
	logger        *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

// newEmbedder is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newEmbedder(config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(tokenOrNone(config.APIKey)),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, err
	}

	// Wrap in langchaingo embedder
	inner, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(config.BatchSize),
	)
	if err != nil {
		return nil, err
	}

	return newEmbedderWithClient(inner, config)
}

// newEmbedderWithClient wires an already constructed langchaingo embedder.
func newEmbedderWithClient(inner embeddings.Embedder, config *ai.Config) (*Embedder, error) {
	e := &Embedder{
		embedder:      inner,
		dimension:     config.Dimension,
		maxInputChars: config.MaxInputChars,
		timeout:       config.Timeout,
		retry: core.RetryPolicy{
			MaxAttempts: config.MaxAttempts,
			BaseDelay:   config.RetryDelay,
			MaxDelay:    10 * config.RetryDelay,
		},
		logger: slog.Default().With("component", "openai-embedder"),
	}
	if config.QueryCacheSize > 0 {
		cache, err := lru.New[string, []float32](config.QueryCacheSize)
		if err != nil {
			return nil, fmt.Errorf("init query cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

// NewEmbedder creates a new embedder using the provided configuration.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

// Dimension returns the configured vector length.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// Embed generates a vector embedding for a single text string.
func (e *Embedder) Embed(ctx context.Context, text string, mode ai.EmbedMode) ([]float32, error) {
	if err := checkMode(mode); err != nil {
		return nil, err
	}
	if err := e.checkInput(text); err != nil {
		return nil, err
	}

	if mode == ai.ModeQuery && e.cache != nil {
		if v, ok := e.cache.Get(text); ok {
			e.logger.Debug("query embedding served from cache", "length", len(text))
			return slices.Clone(v), nil
		}
	}

	e.logger.Debug("generating embedding for single text", "length", len(text), "mode", mode)
	vectors, err := e.embed(ctx, []string{text}, mode)
	if err != nil {
		return nil, err
	}

	if mode == ai.ModeQuery && e.cache != nil {
		e.cache.Add(text, slices.Clone(vectors[0]))
	}
	return vectors[0], nil
}

// EmbedBatch generates vector embeddings for multiple text strings.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, mode ai.EmbedMode) ([][]float32, error) {
	if err := checkMode(mode); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, text := range texts {
		if err := e.checkInput(text); err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
	}

	e.logger.Debug("generating embeddings for texts", "count", len(texts), "mode", mode)
	return e.embed(ctx, texts, mode)
}

func (e *Embedder) checkInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return core.ErrEmptyText
	}
	if n := utf8.RuneCountInString(text); n > e.maxInputChars {
		return fmt.Errorf("%w: text of %d characters exceeds limit of %d", core.ErrInput, n, e.maxInputChars)
	}
	return nil
}

// embed calls the provider with timeout and retry, then validates the result shape.
func (e *Embedder) embed(ctx context.Context, texts []string, mode ai.EmbedMode) ([][]float32, error) {
	var vectors [][]float32
	err := core.Retry(ctx, e.retry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		var err error
		vectors, err = e.call(callCtx, texts, mode)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			e.logger.Warn("embedding request failed", "count", len(texts), "err", err)
			return fmt.Errorf("%w: %w", core.ErrProvider, err)
		}
		return nil
	})
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, err
	}

	if err := e.checkOutput(vectors, len(texts)); err != nil {
		e.logger.Error("provider returned malformed embeddings", "err", err)
		return nil, err
	}
	return vectors, nil
}

func (e *Embedder) call(ctx context.Context, texts []string, mode ai.EmbedMode) ([][]float32, error) {
	switch mode {
	case ai.ModeDocument:
		return e.embedder.EmbedDocuments(ctx, texts)
	case ai.ModeQuery:
		vectors := make([][]float32, len(texts))
		for i, text := range texts {
			v, err := e.embedder.EmbedQuery(ctx, text)
			if err != nil {
				return nil, err
			}
			vectors[i] = v
		}
		return vectors, nil
	default:
		return nil, fmt.Errorf("unknown embed mode %d", mode)
	}
}

func checkMode(mode ai.EmbedMode) error {
	if mode != ai.ModeDocument && mode != ai.ModeQuery {
		return fmt.Errorf("%w: unknown embed mode %d", core.ErrInput, mode)
	}
	return nil
}

// ErrMalformedEmbedding indicates the provider answered with vectors of the wrong shape.
var ErrMalformedEmbedding = fmt.Errorf("%w: malformed embedding response", core.ErrProvider)

func (e *Embedder) checkOutput(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: expected %d vectors, received %d", ErrMalformedEmbedding, want, len(vectors))
	}
	for i, v := range vectors {
		if len(v) != e.dimension {
			return fmt.Errorf("%w: vector %d has dimension %d, expected %d", ErrMalformedEmbedding, i, len(v), e.dimension)
		}
	}
	return nil
}

// tokenOrNone returns "none" for local OpenAI-compatible services that don't require authentication.
func tokenOrNone(key string) string {
	if key == "" {
		return "none"
	}
	return key
}
