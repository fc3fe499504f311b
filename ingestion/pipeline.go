package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/segment"
	"github.com/poiesic/folio/storage"
)

// DefaultCollection is the collection documents are stored in unless overridden.
const DefaultCollection = "textbook"

// Pipeline orchestrates Segmenter, Embedder and VectorStore for a corpus of documents.
// Documents are processed one at a time unless WithPoolSize raises the worker count;
// the chunks of one document are always embedded and stored in order.
type Pipeline struct {
	store      storage.VectorStore
	embedder   ai.Embedder
	segmenter  *segment.Segmenter
	fetcher    Fetcher
	collection string
	pool       *ants.Pool
	retry      core.RetryPolicy
	progress   *ProgressTracker
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets how many documents are ingested concurrently.
// Default is 1, which processes documents sequentially.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
			p.pool = nil
		}
		if size == 1 {
			return nil
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithSegmenter replaces the default segmenter.
func WithSegmenter(s *segment.Segmenter) Option {
	return func(p *Pipeline) error {
		if s == nil {
			return fmt.Errorf("%w: segmenter is nil", core.ErrInput)
		}
		p.segmenter = s
		return nil
	}
}

// WithCollection sets the target collection name.
func WithCollection(name string) Option {
	return func(p *Pipeline) error {
		if name == "" {
			return fmt.Errorf("%w: collection name is required", core.ErrInput)
		}
		p.collection = name
		return nil
	}
}

// WithRetryPolicy sets the backoff used when the store is temporarily unavailable.
func WithRetryPolicy(policy core.RetryPolicy) Option {
	return func(p *Pipeline) error {
		if policy.MaxAttempts < 1 {
			return core.ErrInvalidMaxAttempts
		}
		p.retry = policy
		return nil
	}
}

// WithFetcher sets the fetcher used by IngestRefs and IngestSitemap.
func WithFetcher(f Fetcher) Option {
	return func(p *Pipeline) error {
		p.fetcher = f
		return nil
	}
}

// WithProgress reports per-document progress to tracker.
func WithProgress(tracker *ProgressTracker) Option {
	return func(p *Pipeline) error {
		p.progress = tracker
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(store storage.VectorStore, embedder ai.Embedder, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	segmenter, err := segment.New()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		store:      store,
		embedder:   embedder,
		segmenter:  segmenter,
		fetcher:    NewRoutingFetcher(0),
		collection: DefaultCollection,
		retry:      core.DefaultRetryPolicy(),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "ingestion", "collection", p.collection)

	return p, nil
}

// Collection returns the name of the target collection.
func (p *Pipeline) Collection() string {
	return p.collection
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// EnsureCollection creates the target collection sized for the embedder.
func (p *Pipeline) EnsureCollection(ctx context.Context) error {
	return p.store.EnsureCollection(ctx, p.collection, p.embedder.Dimension(), core.MetricCosine)
}

// Ingest segments, embeds and stores docs.
// Failures are isolated per document and per chunk and recorded in the report.
// The returned error is non-nil only when the collection cannot be prepared or
// ctx is canceled; the report is returned in either case.
func (p *Pipeline) Ingest(ctx context.Context, docs ...*Document) (*Report, error) {
	report := &Report{Documents: make([]DocumentReport, len(docs))}
	start := time.Now()
	defer func() { report.Elapsed = time.Since(start) }()

	if err := p.EnsureCollection(ctx); err != nil {
		markFailed(report.Documents, docs, err)
		return report, err
	}
	p.startProgress(len(docs))
	defer p.finishProgress()

	if p.pool == nil {
		for i, doc := range docs {
			if err := ctx.Err(); err != nil {
				markFailed(report.Documents[i:], docs[i:], err)
				return report, err
			}
			report.Documents[i] = p.ingestDocument(ctx, doc)
		}
		return report, ctx.Err()
	}

	var wg sync.WaitGroup
	for i, doc := range docs {
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				report.Documents[i] = DocumentReport{Reference: doc.Reference, Status: StatusFailed, State: StateFetched, Err: err}
				return
			}
			report.Documents[i] = p.ingestDocument(ctx, doc)
		})
		if err != nil {
			wg.Done()
			report.Documents[i] = DocumentReport{Reference: doc.Reference, Status: StatusFailed, State: StateFetched, Err: err}
		}
	}
	wg.Wait()
	return report, ctx.Err()
}

// IngestRefs fetches each reference and ingests the documents.
// A reference that cannot be fetched is reported as failed without aborting the run.
func (p *Pipeline) IngestRefs(ctx context.Context, refs ...string) (*Report, error) {
	docs := make([]*Document, 0, len(refs))
	fetchFailures := &Report{}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return fetchFailures, err
		}
		doc, err := p.fetcher.Fetch(ctx, ref)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fetchFailures, ctxErr
			}
			p.logger.Warn("failed to fetch document", "reference", ref, "err", err)
			fetchFailures.Documents = append(fetchFailures.Documents, DocumentReport{
				Reference: ref, Status: StatusFailed, Err: err,
			})
			continue
		}
		docs = append(docs, doc)
	}

	report, err := p.Ingest(ctx, docs...)
	report.merge(fetchFailures)
	return report, err
}

// IngestSitemap fetches a sitemaps.org sitemap and ingests every listed URL.
func (p *Pipeline) IngestSitemap(ctx context.Context, sitemapURL string) (*Report, error) {
	doc, err := p.fetcher.Fetch(ctx, sitemapURL)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap: %w", err)
	}
	urls, err := ParseSitemap(strings.NewReader(doc.Raw))
	if err != nil {
		return nil, err
	}
	p.logger.Info("found sitemap urls", "sitemap", sitemapURL, "urls", len(urls))
	return p.IngestRefs(ctx, urls...)
}

// ingestDocument walks one document through fetched, extracted, chunked,
// embedded and stored. It never returns an error; the outcome is in the report.
func (p *Pipeline) ingestDocument(ctx context.Context, doc *Document) DocumentReport {
	logger := p.logger.With("reference", doc.Reference)
	dr := DocumentReport{Reference: doc.Reference, State: StateFetched}
	defer func() { p.advanceProgress(dr.Stored) }()

	text, err := p.segmenter.Extract(doc.Raw, doc.IsHTML)
	if err == nil && text == "" {
		err = ErrNoText
	}
	if err != nil {
		logger.Warn("no text extracted, skipping document", "err", err)
		dr.Status, dr.Err = StatusSkipped, err
		return dr
	}
	dr.State = StateExtracted

	segments, err := p.segmenter.Segment(text)
	if err != nil {
		dr.Status, dr.Err = StatusFailed, err
		return dr
	}
	if len(segments) == 0 {
		dr.Status, dr.Err = StatusSkipped, ErrNoText
		return dr
	}
	dr.State = StateChunked
	dr.Chunks = len(segments)

	chunks := make([]core.Chunk, len(segments))
	texts := make([]string, len(segments))
	for i, seg := range segments {
		chunks[i] = core.Chunk{
			Id:              core.ChunkID(doc.Reference, seg.Position, seg.Text),
			Text:            seg.Text,
			SourceReference: doc.Reference,
			Position:        seg.Position,
			ContentType:     seg.ContentType,
			Title:           doc.Title,
			Extra:           doc.Extra,
		}
		texts[i] = seg.Text
	}

	vectors := p.embedChunks(ctx, logger, texts)
	dr.State = StateEmbedded

	for i := range chunks {
		if ctx.Err() != nil {
			break
		}
		if vectors[i].err != nil {
			dr.FailedChunks++
			dr.Err = firstErr(dr.Err, vectors[i].err)
			continue
		}
		record := core.Record{Id: chunks[i].Id, Vector: core.NormalizeVector(vectors[i].vector), Payload: chunks[i].ToPayload()}
		if err := p.upsert(ctx, record); err != nil {
			logger.Error("failed to store chunk", "position", chunks[i].Position, "err", err)
			dr.FailedChunks++
			dr.Err = firstErr(dr.Err, err)
			continue
		}
		dr.Stored++
	}

	if err := ctx.Err(); err != nil {
		dr.Err = firstErr(dr.Err, err)
	} else if dr.Stored == dr.Chunks {
		// Only a fully stored document may supersede its earlier version.
		ids := make([]core.ID, len(chunks))
		for i := range chunks {
			ids[i] = chunks[i].Id
		}
		removed, err := p.deleteStale(ctx, doc.Reference, ids)
		if err != nil {
			logger.Warn("failed to remove superseded chunks", "err", err)
			dr.Err = firstErr(dr.Err, err)
		}
		dr.Superseded = removed
	}
	switch {
	case dr.Stored > 0:
		dr.State, dr.Status = StateStored, StatusStored
	default:
		dr.Status = StatusFailed
	}
	logger.Info("ingested document", "chunks", dr.Chunks, "stored", dr.Stored, "failed", dr.FailedChunks, "superseded", dr.Superseded)
	return dr
}

type embedResult struct {
	vector []float32
	err    error
}

// embedChunks embeds texts in one batch, falling back to one call per chunk
// when the batch fails so a single bad chunk does not sink its neighbors.
func (p *Pipeline) embedChunks(ctx context.Context, logger *slog.Logger, texts []string) []embedResult {
	results := make([]embedResult, len(texts))

	vectors, err := p.embedder.EmbedBatch(ctx, texts, ai.ModeDocument)
	if err == nil && len(vectors) == len(texts) {
		for i := range vectors {
			results[i].vector = vectors[i]
		}
		return results
	}
	if err == nil {
		err = fmt.Errorf("%w: expected %d embeddings, received %d", core.ErrProvider, len(texts), len(vectors))
	}
	logger.Warn("batch embedding failed, embedding chunks individually", "chunks", len(texts), "err", err)

	for i, text := range texts {
		if ctxErr := ctx.Err(); ctxErr != nil {
			results[i].err = ctxErr
			continue
		}
		vector, err := p.embedder.Embed(ctx, text, ai.ModeDocument)
		if err != nil {
			logger.Error("failed to embed chunk", "position", i, "err", err)
		}
		results[i] = embedResult{vector: vector, err: err}
	}
	return results
}

// upsert writes one record, retrying while the store reports unavailability.
func (p *Pipeline) upsert(ctx context.Context, record core.Record) error {
	return core.Retry(ctx, p.retry, func(ctx context.Context) error {
		return p.store.Upsert(ctx, p.collection, record)
	})
}

// deleteStale removes the chunks of reference not produced by this ingestion.
func (p *Pipeline) deleteStale(ctx context.Context, reference string, keep []core.ID) (int, error) {
	var removed int
	err := core.Retry(ctx, p.retry, func(ctx context.Context) error {
		var err error
		removed, err = p.store.DeleteBySource(ctx, p.collection, reference, keep...)
		return err
	})
	return removed, err
}

func (p *Pipeline) startProgress(total int) {
	if p.progress != nil {
		p.progress.Start(total)
	}
}

func (p *Pipeline) advanceProgress(stored int) {
	if p.progress != nil {
		p.progress.Done(stored)
	}
}

func (p *Pipeline) finishProgress() {
	if p.progress != nil {
		p.progress.Finish()
	}
}

func markFailed(reports []DocumentReport, docs []*Document, err error) {
	for i := range reports {
		reports[i] = DocumentReport{Reference: docs[i].Reference, Status: StatusFailed, Err: err}
	}
}

func firstErr(current, next error) error {
	if current != nil {
		return current
	}
	return next
}
