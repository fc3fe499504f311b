package reembed

import (
	"context"
	"fmt"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

// BatchProcessor embeds batches of records and writes them to a target collection.
type BatchProcessor struct {
	store    storage.VectorStore
	embedder ai.Embedder
	target   string
	retry    core.RetryPolicy
}

// NewBatchProcessor creates a new batch processor writing into target.
func NewBatchProcessor(store storage.VectorStore, embedder ai.Embedder, target string, retry core.RetryPolicy) *BatchProcessor {
	return &BatchProcessor{
		store:    store,
		embedder: embedder,
		target:   target,
		retry:    retry,
	}
}

// Process embeds the payload text of records in document mode and upserts
// them under their existing IDs. Vectors are normalized before storage.
func (bp *BatchProcessor) Process(ctx context.Context, records []core.Record) error {
	if len(records) == 0 {
		return nil
	}

	texts := make([]string, len(records))
	for i, record := range records {
		texts[i] = record.Payload.Text
	}

	var embeddings [][]float32
	err := core.Retry(ctx, bp.retry, func(ctx context.Context) error {
		var err error
		embeddings, err = bp.embedder.EmbedBatch(ctx, texts, ai.ModeDocument)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(records) {
		return fmt.Errorf("%w: embedding count mismatch: expected %d, got %d", core.ErrProvider, len(records), len(embeddings))
	}

	out := make([]core.Record, len(records))
	for i, record := range records {
		out[i] = core.Record{
			Id:      record.Id,
			Vector:  core.NormalizeVector(embeddings[i]),
			Payload: record.Payload,
		}
	}

	err = core.Retry(ctx, bp.retry, func(ctx context.Context) error {
		return bp.store.Upsert(ctx, bp.target, out...)
	})
	if err != nil {
		return fmt.Errorf("failed to update records: %w", err)
	}
	return nil
}
