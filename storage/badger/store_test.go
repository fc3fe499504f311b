package badger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCollection = "textbook"

func newTestStore(t *testing.T, dimension int) *Store {
	t.Helper()
	store, err := NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.EnsureCollection(context.Background(), testCollection, dimension, core.MetricCosine))
	return store
}

func testRecord(id core.ID, text string, vector ...float32) core.Record {
	return core.Record{
		Id:     id,
		Vector: vector,
		Payload: core.Payload{
			Text:            text,
			SourceReference: "/ch1",
			Position:        int(id),
			ContentType:     core.ContentTypeParagraph,
		},
	}
}

func TestEnsureCollection_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 3)

	require.NoError(t, store.EnsureCollection(ctx, testCollection, 3, core.MetricCosine))

	c, err := store.DescribeCollection(ctx, testCollection)
	require.NoError(t, err)
	assert.Equal(t, core.Collection{Name: testCollection, Dimension: 3, Metric: core.MetricCosine}, c)
}

func TestEnsureCollection_SchemaConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 3)
	require.NoError(t, store.Upsert(ctx, testCollection, testRecord(1, "kept", 1, 0, 0)))

	err := store.EnsureCollection(ctx, testCollection, 4, core.MetricCosine)
	require.ErrorIs(t, err, core.ErrSchemaConflict)

	var conflict *core.SchemaConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 4, conflict.Want.Dimension)
	assert.Equal(t, 3, conflict.Have.Dimension)
	assert.False(t, core.IsRetryable(err))

	// the existing collection was not recreated
	count, err := store.Count(ctx, testCollection)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEnsureCollection_InvalidParameters(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	err = store.EnsureCollection(context.Background(), "", 3, core.MetricCosine)
	assert.ErrorIs(t, err, core.ErrInput)
	err = store.EnsureCollection(context.Background(), "x", 0, core.MetricCosine)
	assert.ErrorIs(t, err, core.ErrInput)
	err = store.EnsureCollection(context.Background(), "x", 3, core.Metric("euclid"))
	assert.ErrorIs(t, err, core.ErrInput)
}

func TestDescribeCollection_NotFound(t *testing.T) {
	store := newTestStore(t, 3)
	_, err := store.DescribeCollection(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrCollectionNotFound)
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 3)

	err := store.Upsert(ctx, testCollection, testRecord(1, "short", 1, 0))
	require.ErrorIs(t, err, core.ErrDimensionMismatch)

	count, err := store.Count(ctx, testCollection)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUpsert_RejectsEmptyPayload(t *testing.T) {
	store := newTestStore(t, 3)
	err := store.Upsert(context.Background(), testCollection, testRecord(1, "  ", 1, 0, 0))
	assert.ErrorIs(t, err, storage.ErrInvalidRecord)
}

func TestUpsert_OverwritesByID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 3)

	require.NoError(t, store.Upsert(ctx, testCollection, testRecord(7, "first", 1, 0, 0)))
	require.NoError(t, store.Upsert(ctx, testCollection, testRecord(7, "second", 0, 1, 0)))

	count, err := store.Count(ctx, testCollection)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := store.Query(ctx, testCollection, []float32{0, 1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "second", results[0].Record.Payload.Text)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestUpsert_Empty(t *testing.T) {
	store := newTestStore(t, 3)
	assert.NoError(t, store.Upsert(context.Background(), testCollection))
}

func TestUpsert_CollectionNotFound(t *testing.T) {
	store := newTestStore(t, 3)
	err := store.Upsert(context.Background(), "missing", testRecord(1, "x", 1, 0, 0))
	assert.ErrorIs(t, err, storage.ErrCollectionNotFound)
}

func TestQuery_EmptyCollection(t *testing.T) {
	store := newTestStore(t, 3)
	results, err := store.Query(context.Background(), testCollection, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestQuery_RankingAndLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 3)

	require.NoError(t, store.Upsert(ctx, testCollection,
		testRecord(1, "exact", 1, 0, 0),
		testRecord(2, "close", 0.9, 0.1, 0),
		testRecord(3, "orthogonal", 0, 0, 1),
		testRecord(4, "opposite", -1, 0, 0),
	))

	results, err := store.Query(ctx, testCollection, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "exact", results[0].Record.Payload.Text)
	assert.Equal(t, "close", results[1].Record.Payload.Text)
	assert.Equal(t, "orthogonal", results[2].Record.Payload.Text)
	for i := 0; i < len(results)-1; i++ {
		assert.GreaterOrEqual(t, results[i].Score, results[i+1].Score)
	}
	assert.Equal(t, "/ch1", results[0].Record.Payload.SourceReference)
}

func TestQuery_TiesOrderedByID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 2)
	require.NoError(t, store.Upsert(ctx, testCollection,
		testRecord(9, "nine", 1, 0),
		testRecord(3, "three", 1, 0),
	))

	results, err := store.Query(ctx, testCollection, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, core.ID(3), results[0].Record.Id)
	assert.Equal(t, core.ID(9), results[1].Record.Id)
}

func TestQuery_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 3)

	_, err := store.Query(ctx, testCollection, []float32{1, 0}, 3)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	_, err = store.Query(ctx, testCollection, []float32{1, 0, 0}, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)

	_, err = store.Query(ctx, "missing", []float32{1, 0, 0}, 3)
	assert.ErrorIs(t, err, storage.ErrCollectionNotFound)
}

func TestCollectionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 2)
	require.NoError(t, store.EnsureCollection(ctx, testCollection+"2", 2, core.MetricCosine))
	require.NoError(t, store.Upsert(ctx, testCollection, testRecord(1, "one", 1, 0)))

	count, err := store.Count(ctx, testCollection+"2")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUpsert_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 2)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				id := core.ID(w*100 + i + 1)
				if err := store.Upsert(ctx, testCollection, testRecord(id, fmt.Sprintf("w%d-%d", w, i), 1, float32(i))); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, err := store.Count(ctx, testCollection)
	require.NoError(t, err)
	assert.Equal(t, 200, count)

	// every record keeps its own payload next to its own vector
	results, err := store.Query(ctx, testCollection, []float32{1, 0}, 200)
	require.NoError(t, err)
	for _, r := range results {
		w := int(r.Record.Id-1) / 100
		i := int(r.Record.Id-1) % 100
		assert.Equal(t, fmt.Sprintf("w%d-%d", w, i), r.Record.Payload.Text)
		assert.Equal(t, float32(i), r.Record.Vector[1])
	}
}

func TestEnsureCollection_Concurrent(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.EnsureCollection(context.Background(), "shared", 4, core.MetricCosine))
		}()
	}
	wg.Wait()
}

func TestStore_Closed(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.EnsureCollection(ctx, testCollection, 2, core.MetricCosine))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err = store.Query(ctx, testCollection, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.True(t, core.IsRetryable(err))

	err = store.Upsert(ctx, testCollection, testRecord(1, "x", 1, 0))
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

func TestStore_CanceledContext(t *testing.T) {
	store := newTestStore(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Upsert(ctx, testCollection, testRecord(1, "x", 1, 0))
	assert.ErrorIs(t, err, context.Canceled)

	count, err := store.Count(context.Background(), testCollection)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOpen_Persists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.EnsureCollection(ctx, testCollection, 2, core.MetricCosine))
	require.NoError(t, store.Upsert(ctx, testCollection, testRecord(1, "durable", 1, 0)))
	require.NoError(t, store.Close())

	store, err = Open(dir)
	require.NoError(t, err)
	defer store.Close()
	count, err := store.Count(ctx, testCollection)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 2)
	require.NoError(t, store.EnsureCollection(ctx, testCollection+"2", 2, core.MetricCosine))
	require.NoError(t, store.Upsert(ctx, testCollection+"2", testRecord(99, "other", 1, 0)))
	for _, id := range []core.ID{500, 3, 42, 7, 1 << 40} {
		require.NoError(t, store.Upsert(ctx, testCollection, testRecord(id, fmt.Sprintf("chunk %d", id), 1, 1)))
	}

	var batches [][]core.ID
	err := store.Scan(ctx, testCollection, 2, func(batch []core.Record) error {
		ids := make([]core.ID, len(batch))
		for i, r := range batch {
			ids[i] = r.Id
			assert.Equal(t, fmt.Sprintf("chunk %d", r.Id), r.Payload.Text)
			assert.Len(t, r.Vector, 2)
		}
		batches = append(batches, ids)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]core.ID{{3, 7}, {42, 500}, {1 << 40}}, batches)

	t.Run("stops on callback error", func(t *testing.T) {
		calls := 0
		err := store.Scan(ctx, testCollection, 2, func([]core.Record) error {
			calls++
			return assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, 1, calls)
	})

	t.Run("empty collection", func(t *testing.T) {
		require.NoError(t, store.EnsureCollection(ctx, "empty", 2, core.MetricCosine))
		called := false
		require.NoError(t, store.Scan(ctx, "empty", 10, func([]core.Record) error {
			called = true
			return nil
		}))
		assert.False(t, called)
	})

	t.Run("upserts during scan", func(t *testing.T) {
		seen := 0
		err := store.Scan(ctx, testCollection, 1, func(batch []core.Record) error {
			seen += len(batch)
			r := batch[0]
			r.Payload.Text = "rewritten"
			return store.Upsert(ctx, testCollection, r)
		})
		require.NoError(t, err)
		assert.Equal(t, 5, seen)
	})

	t.Run("not found and invalid size", func(t *testing.T) {
		noop := func([]core.Record) error { return nil }
		assert.ErrorIs(t, store.Scan(ctx, "missing", 2, noop), storage.ErrCollectionNotFound)
		assert.ErrorIs(t, store.Scan(ctx, testCollection, 0, noop), core.ErrInput)
	})
}

func TestDeleteBySource(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 2)

	other := testRecord(10, "respiration", 0, 1)
	other.Payload.SourceReference = "/ch2"
	require.NoError(t, store.Upsert(ctx, testCollection,
		testRecord(1, "old photosynthesis", 1, 0),
		testRecord(2, "old light reactions", 1, 1),
		testRecord(3, "new photosynthesis", 1, 2),
		other,
	))

	removed, err := store.DeleteBySource(ctx, testCollection, "/ch1", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	var ids []core.ID
	require.NoError(t, store.Scan(ctx, testCollection, 10, func(batch []core.Record) error {
		for _, r := range batch {
			ids = append(ids, r.Id)
		}
		return nil
	}))
	assert.Equal(t, []core.ID{3, 10}, ids)

	t.Run("nothing stale", func(t *testing.T) {
		removed, err := store.DeleteBySource(ctx, testCollection, "/ch1", 3)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("whole source", func(t *testing.T) {
		removed, err := store.DeleteBySource(ctx, testCollection, "/ch2")
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		count, err := store.Count(ctx, testCollection)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		_, err := store.DeleteBySource(ctx, testCollection, "")
		assert.ErrorIs(t, err, core.ErrInput)
		_, err = store.DeleteBySource(ctx, "missing", "/ch1")
		assert.ErrorIs(t, err, storage.ErrCollectionNotFound)
	})
}
