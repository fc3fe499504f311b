package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

// Store is a vector store whose collections can be scanned.
type Store interface {
	storage.VectorStore
	storage.Scanner
}

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of records to process in each batch
	BatchSize int

	// Retry bounds the backoff for failed embedding and upsert calls
	Retry core.RetryPolicy
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize: DefaultBatchSize,
		Retry:     core.DefaultRetryPolicy(),
	}
}

// Result summarizes a completed run.
type Result struct {
	Records int
	Elapsed time.Duration
}

// Reembedder copies a collection into another one with fresh embeddings.
type Reembedder struct {
	store    Store
	embedder ai.Embedder
	config   *Config
	progress io.Writer
	logger   *slog.Logger
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr), or nil
func NewReembedder(store Store, embedder ai.Embedder, config *Config, progress io.Writer) (*Reembedder, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Retry.MaxAttempts <= 0 {
		return nil, core.ErrInvalidMaxAttempts
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reembedder{
		store:    store,
		embedder: embedder,
		config:   config,
		progress: progress,
		logger:   slog.Default().With("component", "reembed"),
	}, nil
}

// Run re-embeds every record of source into target, creating target with
// the embedder's dimension. source and target may be the same collection
// when the dimension does not change.
func (r *Reembedder) Run(ctx context.Context, source, target string) (*Result, error) {
	src, err := r.store.DescribeCollection(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %q: %w", source, err)
	}
	dimension := r.embedder.Dimension()
	if source == target && src.Dimension != dimension {
		return nil, fmt.Errorf("%w: %q has dimension %d, embedder produces %d", ErrDimensionChangeInPlace, source, src.Dimension, dimension)
	}
	if err := r.store.EnsureCollection(ctx, target, dimension, core.MetricCosine); err != nil {
		return nil, err
	}

	total, err := r.store.Count(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	if total == 0 {
		fmt.Fprintf(r.progress, "No records found in %q (0 records)\n", source)
		return &Result{}, nil
	}

	fmt.Fprintf(r.progress, "Starting reembedding of %d records from %q into %q (batch size: %d)\n",
		total, source, target, r.config.BatchSize)
	r.logger.Info("reembedding", "source", source, "target", target, "records", total, "dimension", dimension)

	start := time.Now()
	processor := NewBatchProcessor(r.store, r.embedder, target, r.config.Retry)
	iterator := NewRecordIterator(r.store, source, r.config.BatchSize)

	processed := 0
	err = iterator.ForEach(ctx, func(records []core.Record) error {
		if err := processor.Process(ctx, records); err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		processed += len(records)
		fmt.Fprintf(r.progress, "\rProgress: %d/%d records (%.1f%%)", processed, total, 100*float64(processed)/float64(total))
		return nil
	})
	if err != nil {
		fmt.Fprintln(r.progress)
		return &Result{Records: processed, Elapsed: time.Since(start)}, err
	}

	elapsed := time.Since(start)
	fmt.Fprintf(r.progress, "\nReembedding complete. Processed %d records in %v (%.1f records/sec)\n",
		processed, elapsed.Round(time.Millisecond), float64(processed)/elapsed.Seconds())
	return &Result{Records: processed, Elapsed: elapsed}, nil
}
