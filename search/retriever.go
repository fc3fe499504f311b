package search

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

// DefaultK is the number of chunks retrieved when the caller does not ask for a count.
const DefaultK = 5

// Retriever fetches the chunks most similar to a query.
// It holds no per-request state and is safe for concurrent use.
type Retriever struct {
	embedder   ai.Embedder
	store      storage.VectorStore
	collection string
	defaultK   int
	minScore   float32
	logger     *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// WithMinScore drops hits scoring below min. Default is no threshold.
func WithMinScore(min float32) Option {
	return func(r *Retriever) error {
		if min < -1 || min > 1 {
			return fmt.Errorf("%w: min score must be within [-1, 1], got %v", core.ErrInput, min)
		}
		r.minScore = min
		return nil
	}
}

// WithDefaultK sets the hit count used when Retrieve is called with k <= 0.
func WithDefaultK(k int) Option {
	return func(r *Retriever) error {
		if k <= 0 {
			return fmt.Errorf("%w: default k must be positive, got %d", core.ErrInput, k)
		}
		r.defaultK = k
		return nil
	}
}

// WithCollection sets the collection queried. Default is "textbook".
func WithCollection(name string) Option {
	return func(r *Retriever) error {
		if name == "" {
			return fmt.Errorf("%w: collection name is required", core.ErrInput)
		}
		r.collection = name
		return nil
	}
}

// NewRetriever creates a new retriever.
func NewRetriever(embedder ai.Embedder, store storage.VectorStore, opts ...Option) (*Retriever, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if store == nil {
		return nil, ErrStoreRequired
	}

	r := &Retriever{
		embedder:   embedder,
		store:      store,
		collection: "textbook",
		defaultK:   DefaultK,
		minScore:   -1,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "retriever")
	return r, nil
}

// Retrieve returns up to k chunks ranked by descending similarity to query.
// k <= 0 uses the default. No matching evidence yields an empty slice and a nil error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]core.RetrievalHit, error) {
	return r.RetrieveWithMonitor(ctx, query, k, nil)
}

// RetrieveWithMonitor is Retrieve with a monitor receiving callbacks at each stage.
func (r *Retriever) RetrieveWithMonitor(ctx context.Context, query string, k int, monitor Monitor) ([]core.RetrievalHit, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = r.defaultK
	}
	monitor.Start(query, k)

	vector, err := r.embedder.Embed(ctx, query, ai.ModeQuery)
	if err != nil {
		r.logger.Error("error generating embedding for query", "err", err)
		return nil, err
	}
	monitor.AfterEmbedding(vector)

	// Cancellation between the two calls must not reach the store.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results, err := r.store.Query(ctx, r.collection, vector, k)
	if err != nil {
		r.logger.Error("error querying for similar chunks", "collection", r.collection, "err", err)
		return nil, err
	}
	monitor.AfterQuery(results)

	hits := make([]core.RetrievalHit, 0, len(results))
	for i := range results {
		if results[i].Score < r.minScore {
			monitor.BelowThreshold(&results[i].Record, results[i].Score, r.minScore)
			continue
		}
		hits = append(hits, core.RetrievalHit{
			Chunk: core.ChunkFromRecord(&results[i].Record),
			Score: results[i].Score,
		})
	}

	slices.SortStableFunc(hits, func(a, b core.RetrievalHit) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.Chunk.Id, b.Chunk.Id)
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	r.logger.Debug("retrieved chunks", "candidates", len(results), "hits", len(hits))
	monitor.Finish(hits)
	return hits, nil
}
