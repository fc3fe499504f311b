package ingestion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/folio/ai"
	"github.com/poiesic/folio/ai/mock"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/segment"
	"github.com/poiesic/folio/storage"
	"github.com/poiesic/folio/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 64

// flakyStore fails the first failures upserts with a retryable error.
type flakyStore struct {
	storage.VectorStore
	failures atomic.Int32
	upserts  atomic.Int32
}

func (s *flakyStore) Upsert(ctx context.Context, collection string, records ...core.Record) error {
	s.upserts.Add(1)
	if s.failures.Add(-1) >= 0 {
		return fmt.Errorf("%w: connection reset", core.ErrStoreUnavailable)
	}
	return s.VectorStore.Upsert(ctx, collection, records...)
}

func setupTestStore(t *testing.T) *badger.Store {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func setupTestPipeline(t *testing.T, store storage.VectorStore, embedder ai.Embedder, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithRetryPolicy(core.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})}, opts...)
	p, err := NewPipeline(store, embedder, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

// textOfLength builds prose of exactly n characters.
func textOfLength(n int) string {
	sentence := "Attention lets every token weigh every other token. "
	return strings.Repeat(sentence, n/len(sentence)+1)[:n]
}

func storedCount(t *testing.T, store storage.VectorStore) int {
	t.Helper()
	count, err := store.Count(context.Background(), DefaultCollection)
	require.NoError(t, err)
	return count
}

func TestNewPipeline_RequiresDependencies(t *testing.T) {
	store := setupTestStore(t)

	_, err := NewPipeline(nil, mock.NewMockEmbedder())
	assert.ErrorIs(t, err, ErrStoreRequired)

	_, err = NewPipeline(store, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	_, err = NewPipeline(store, mock.NewMockEmbedder(), WithCollection(""))
	assert.ErrorIs(t, err, core.ErrInput)

	_, err = NewPipeline(store, mock.NewMockEmbedder(), WithRetryPolicy(core.RetryPolicy{}))
	assert.ErrorIs(t, err, core.ErrInput)
}

func TestIngest_ThreeChunksFromLongDocument(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	embedder := mock.NewMockEmbedderWithDimension(testDimension)
	p := setupTestPipeline(t, store, embedder)

	text := textOfLength(2500)
	require.Len(t, segment.Normalize(text), 2500)

	report, err := p.Ingest(ctx, &Document{Reference: "/ch1", Raw: text, Title: "Chapter 1"})
	require.NoError(t, err)
	require.Len(t, report.Documents, 1)

	dr := report.Documents[0]
	assert.Equal(t, StatusStored, dr.Status)
	assert.Equal(t, StateStored, dr.State)
	assert.Equal(t, 3, dr.Chunks)
	assert.Equal(t, 3, dr.Stored)
	assert.Zero(t, dr.FailedChunks)
	assert.NoError(t, dr.Err)
	assert.Equal(t, 3, report.ChunksStored())
	assert.Equal(t, 3, storedCount(t, store))

	for _, mode := range embedder.Modes() {
		assert.Equal(t, ai.ModeDocument, mode)
	}
}

func TestIngest_PayloadCarriesProvenance(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	embedder := mock.NewMockEmbedderWithDimension(testDimension)
	p := setupTestPipeline(t, store, embedder)

	raw := "# Transformers\n\nA transformer is a neural network architecture built on attention."
	_, err := p.Ingest(ctx, &Document{Reference: "/ch3", Raw: raw, Title: "Chapter 3", Extra: map[string]string{"chapter": "3"}})
	require.NoError(t, err)

	results, err := store.Query(ctx, DefaultCollection, mock.GenerateVector("transformer architecture", testDimension), 5)
	require.NoError(t, err)
	require.Len(t, results, 1)

	chunk := core.ChunkFromRecord(&results[0].Record)
	assert.Equal(t, "Transformers\n\nA transformer is a neural network architecture built on attention.", chunk.Text)
	assert.Equal(t, "/ch3", chunk.SourceReference)
	assert.Equal(t, 0, chunk.Position)
	assert.Equal(t, core.ContentTypeParagraph, chunk.ContentType)
	assert.Equal(t, "Chapter 3", chunk.Title)
	assert.Equal(t, "3", chunk.Extra["chapter"])
	assert.Equal(t, core.ChunkID("/ch3", 0, chunk.Text), chunk.Id)
}

func TestIngest_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	p := setupTestPipeline(t, store, mock.NewMockEmbedderWithDimension(testDimension))

	doc := &Document{Reference: "/ch1", Raw: textOfLength(2500)}
	_, err := p.Ingest(ctx, doc)
	require.NoError(t, err)
	require.Equal(t, 3, storedCount(t, store))

	report, err := p.Ingest(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 3, report.ChunksStored())
	assert.Equal(t, 3, storedCount(t, store))
}

func TestIngest_SkipsEmptyDocumentAndContinues(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	p := setupTestPipeline(t, store, mock.NewMockEmbedderWithDimension(testDimension))

	report, err := p.Ingest(ctx,
		&Document{Reference: "/empty", Raw: "```\nonly code\n```\n\n---\n"},
		&Document{Reference: "/ch2", Raw: "Gradient descent minimizes a loss function."},
	)
	require.NoError(t, err)
	require.Len(t, report.Documents, 2)

	assert.Equal(t, StatusSkipped, report.Documents[0].Status)
	assert.Equal(t, StateFetched, report.Documents[0].State)
	assert.ErrorIs(t, report.Documents[0].Err, ErrNoText)

	assert.Equal(t, StatusStored, report.Documents[1].Status)
	assert.Equal(t, 1, report.Count(StatusSkipped))
	assert.Equal(t, 1, report.Count(StatusStored))
	assert.Equal(t, 1, storedCount(t, store))
}

func TestIngest_ChunkEmbeddingFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	embedder := mock.NewMockEmbedderWithDimension(testDimension)
	embedder.EmbedBatchFunc = func(ctx context.Context, texts []string, mode ai.EmbedMode) ([][]float32, error) {
		return nil, fmt.Errorf("%w: batch rejected", core.ErrProvider)
	}
	var calls atomic.Int32
	embedder.EmbedFunc = func(ctx context.Context, text string, mode ai.EmbedMode) ([]float32, error) {
		if calls.Add(1) == 2 {
			return nil, fmt.Errorf("%w: provider timeout", core.ErrProvider)
		}
		return mock.GenerateVector(text, testDimension), nil
	}
	p := setupTestPipeline(t, store, embedder)

	report, err := p.Ingest(ctx, &Document{Reference: "/ch1", Raw: textOfLength(2500)})
	require.NoError(t, err)

	dr := report.Documents[0]
	assert.Equal(t, StatusStored, dr.Status)
	assert.Equal(t, 3, dr.Chunks)
	assert.Equal(t, 2, dr.Stored)
	assert.Equal(t, 1, dr.FailedChunks)
	assert.ErrorIs(t, dr.Err, core.ErrProvider)
	assert.Equal(t, 2, report.ChunksStored())
	assert.Equal(t, 2, storedCount(t, store))
}

func TestIngest_AllChunksFailMarksDocumentFailed(t *testing.T) {
	store := setupTestStore(t)
	embedder := mock.NewMockEmbedderWithDimension(testDimension)
	providerErr := fmt.Errorf("%w: unreachable", core.ErrProvider)
	embedder.EmbedBatchFunc = func(context.Context, []string, ai.EmbedMode) ([][]float32, error) { return nil, providerErr }
	embedder.EmbedFunc = func(context.Context, string, ai.EmbedMode) ([]float32, error) { return nil, providerErr }
	p := setupTestPipeline(t, store, embedder)

	report, err := p.Ingest(context.Background(), &Document{Reference: "/ch1", Raw: "Short text about optimizers."})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, report.Documents[0].Status)
	assert.Equal(t, StateEmbedded, report.Documents[0].State)
	assert.Zero(t, report.ChunksStored())
}

func TestIngest_RetriesUnavailableStore(t *testing.T) {
	store := &flakyStore{VectorStore: setupTestStore(t)}
	store.failures.Store(2)
	p := setupTestPipeline(t, store, mock.NewMockEmbedderWithDimension(testDimension))

	report, err := p.Ingest(context.Background(), &Document{Reference: "/ch1", Raw: "Backpropagation computes gradients."})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ChunksStored())
	assert.Equal(t, int32(3), store.upserts.Load())
}

func TestIngest_StoreFailureAfterRetries(t *testing.T) {
	store := &flakyStore{VectorStore: setupTestStore(t)}
	store.failures.Store(100)
	p := setupTestPipeline(t, store, mock.NewMockEmbedderWithDimension(testDimension))

	report, err := p.Ingest(context.Background(), &Document{Reference: "/ch1", Raw: "Backpropagation computes gradients."})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, report.Documents[0].Status)
	assert.ErrorIs(t, report.Documents[0].Err, core.ErrStoreUnavailable)
	assert.Equal(t, int32(3), store.upserts.Load())
}

func TestIngest_SchemaConflict(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	require.NoError(t, store.EnsureCollection(ctx, DefaultCollection, 8, core.MetricCosine))
	p := setupTestPipeline(t, store, mock.NewMockEmbedderWithDimension(testDimension))

	_, err := p.Ingest(ctx, &Document{Reference: "/ch1", Raw: "text"})
	assert.ErrorIs(t, err, core.ErrSchemaConflict)

	c, err := store.DescribeCollection(ctx, DefaultCollection)
	require.NoError(t, err)
	assert.Equal(t, 8, c.Dimension)
}

func TestIngest_Canceled(t *testing.T) {
	store := setupTestStore(t)
	p := setupTestPipeline(t, store, mock.NewMockEmbedderWithDimension(testDimension))
	require.NoError(t, p.EnsureCollection(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := p.Ingest(ctx, &Document{Reference: "/a", Raw: "alpha"}, &Document{Reference: "/b", Raw: "beta"})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, report.Documents, 2)
	for _, dr := range report.Documents {
		assert.Equal(t, StatusFailed, dr.Status)
	}
	assert.Zero(t, storedCount(t, store))
}

func TestIngest_ParallelDocuments(t *testing.T) {
	store := setupTestStore(t)
	p := setupTestPipeline(t, store, mock.NewMockEmbedderWithDimension(testDimension), WithPoolSize(4))

	docs := make([]*Document, 20)
	for i := range docs {
		docs[i] = &Document{Reference: fmt.Sprintf("/doc%02d", i), Raw: fmt.Sprintf("Document %d discusses topic number %d.", i, i)}
	}

	report, err := p.Ingest(context.Background(), docs...)
	require.NoError(t, err)
	require.Len(t, report.Documents, 20)
	for i, dr := range report.Documents {
		assert.Equal(t, docs[i].Reference, dr.Reference)
		assert.Equal(t, StatusStored, dr.Status)
	}
	assert.Equal(t, 20, storedCount(t, store))
}

func TestIngestRefs_FilesAndMissing(t *testing.T) {
	dir := t.TempDir()
	md := filepath.Join(dir, "ch1.md")
	html := filepath.Join(dir, "ch2.html")
	require.NoError(t, os.WriteFile(md, []byte("# Chapter 1\n\nNeural networks learn weights."), 0644))
	require.NoError(t, os.WriteFile(html, []byte("<html><body><nav>menu</nav><p>Convolutions share weights.</p></body></html>"), 0644))

	store := setupTestStore(t)
	p := setupTestPipeline(t, store, mock.NewMockEmbedderWithDimension(testDimension))

	report, err := p.IngestRefs(context.Background(), md, filepath.Join(dir, "missing.md"), html)
	require.NoError(t, err)
	require.Len(t, report.Documents, 3)
	assert.Equal(t, 2, report.Count(StatusStored))
	assert.Equal(t, 1, report.Count(StatusFailed))

	var failed DocumentReport
	for _, dr := range report.Documents {
		if dr.Status == StatusFailed {
			failed = dr
		}
	}
	assert.ErrorIs(t, failed.Err, ErrNotFound)
	assert.Equal(t, 2, storedCount(t, store))

	results, err := store.Query(context.Background(), DefaultCollection, mock.GenerateVector("convolutions share weights", testDimension), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Convolutions share weights.", results[0].Record.Payload.Text)
}

func TestIngestSitemap(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%[1]s/docs/intro</loc></url>
  <url><loc>%[1]s/docs/gone</loc></url>
  <url><loc>%[1]s/docs/ch3</loc></url>
</urlset>`, srv.URL)
	})
	mux.HandleFunc("/docs/intro", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><head><script>var x;</script></head><body><h1>Intro</h1><p>Robots perceive the world.</p></body></html>")
	})
	mux.HandleFunc("/docs/ch3", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<article><p>A transformer is a neural network architecture.</p></article>")
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	store := setupTestStore(t)
	p := setupTestPipeline(t, store, mock.NewMockEmbedderWithDimension(testDimension))

	report, err := p.IngestSitemap(context.Background(), srv.URL+"/sitemap.xml")
	require.NoError(t, err)
	require.Len(t, report.Documents, 3)
	assert.Equal(t, 2, report.Count(StatusStored))
	assert.Equal(t, 1, report.Count(StatusFailed))
	assert.Equal(t, 2, report.ChunksStored())

	results, err := store.Query(context.Background(), DefaultCollection, mock.GenerateVector("transformer", testDimension), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, srv.URL+"/docs/ch3", results[0].Record.Payload.SourceReference)
}

func TestIngestSitemap_FetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	p := setupTestPipeline(t, setupTestStore(t), mock.NewMockEmbedderWithDimension(testDimension))
	_, err := p.IngestSitemap(context.Background(), srv.URL+"/sitemap.xml")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestIngest_ReportsProgress(t *testing.T) {
	var buf strings.Builder
	p := setupTestPipeline(t, setupTestStore(t), mock.NewMockEmbedderWithDimension(testDimension),
		WithProgress(NewProgressTracker(&buf)))

	_, err := p.Ingest(context.Background(), &Document{Reference: "/a", Raw: "alpha beta gamma"}, &Document{Reference: "/b", Raw: "delta epsilon"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "2/2 documents (100.0%)")
	assert.Contains(t, buf.String(), "2 chunks")
}

func TestIngest_EditedDocumentSupersedesOldChunks(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	p := setupTestPipeline(t, store, mock.NewMockEmbedderWithDimension(testDimension))

	other := &Document{Reference: "/ch2", Raw: "Mitochondria drive cellular respiration."}
	_, err := p.Ingest(ctx, &Document{Reference: "/ch1", Raw: "Old text about photosynthesis."}, other)
	require.NoError(t, err)
	require.Equal(t, 2, storedCount(t, store))

	report, err := p.Ingest(ctx, &Document{Reference: "/ch1", Raw: "New text about respiration."})
	require.NoError(t, err)
	require.Len(t, report.Documents, 1)
	assert.Equal(t, StatusStored, report.Documents[0].Status)
	assert.Equal(t, 1, report.Documents[0].Superseded)
	assert.NoError(t, report.Documents[0].Err)
	assert.Equal(t, 2, storedCount(t, store))

	results, err := store.Query(ctx, DefaultCollection, mock.GenerateVector("photosynthesis", testDimension), 10)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotContains(t, r.Record.Payload.Text, "Old text")
	}
}

func TestIngest_FailedReingestKeepsPreviousVersion(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	embedder := mock.NewMockEmbedderWithDimension(testDimension)
	p := setupTestPipeline(t, store, embedder)

	_, err := p.Ingest(ctx, &Document{Reference: "/ch1", Raw: "Old text about photosynthesis."})
	require.NoError(t, err)

	embedder.EmbedBatchFunc = func(ctx context.Context, texts []string, mode ai.EmbedMode) ([][]float32, error) {
		return nil, fmt.Errorf("%w: bad input", core.ErrInput)
	}
	embedder.EmbedFunc = func(ctx context.Context, text string, mode ai.EmbedMode) ([]float32, error) {
		return nil, fmt.Errorf("%w: bad input", core.ErrInput)
	}
	report, err := p.Ingest(ctx, &Document{Reference: "/ch1", Raw: "New text about respiration."})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, report.Documents[0].Status)
	assert.Zero(t, report.Documents[0].Superseded)
	assert.Equal(t, 1, storedCount(t, store))
}

func TestIngest_StoresUnitVectors(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	embedder := mock.NewMockEmbedderWithDimension(testDimension)
	embedder.EmbedBatchFunc = func(ctx context.Context, texts []string, mode ai.EmbedMode) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			v := make([]float32, testDimension)
			v[0], v[1] = 3, 4
			out[i] = v
		}
		return out, nil
	}
	p := setupTestPipeline(t, store, embedder)

	_, err := p.Ingest(ctx, &Document{Reference: "/ch1", Raw: "Light reactions split water."})
	require.NoError(t, err)

	require.NoError(t, store.Scan(ctx, DefaultCollection, 10, func(batch []core.Record) error {
		for _, r := range batch {
			assert.InDelta(t, 0.6, r.Vector[0], 1e-6)
			assert.InDelta(t, 0.8, r.Vector[1], 1e-6)
		}
		return nil
	}))
}
