// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package badger

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

// cancelCheckInterval is how many records a scan visits between context checks.
const cancelCheckInterval = 256

// Store implements storage.VectorStore on top of BadgerDB.
// Similarity queries are exact: every record of the collection is scored.
type Store struct {
	backend *Backend
	mu      sync.Mutex // serializes collection creation
}

var (
	_ storage.VectorStore = (*Store)(nil)
	_ storage.Scanner     = (*Store)(nil)
)

// NewStore creates a Store over an open backend. The store owns the backend
// and closes it on Close.
func NewStore(backend *Backend) *Store {
	return &Store{backend: backend}
}

// Open opens a file-backed store at path.
func Open(path string) (*Store, error) {
	backend, err := OpenBackend(path, false, nil)
	if err != nil {
		return nil, err
	}
	return NewStore(backend), nil
}

// Close closes the underlying backend.
func (s *Store) Close() error {
	if s.backend.IsClosed() {
		return nil
	}
	return s.backend.Close()
}

// EnsureCollection creates the collection if absent, or verifies its parameters.
func (s *Store) EnsureCollection(ctx context.Context, name string, dimension int, metric core.Metric) error {
	want := core.Collection{Name: name, Dimension: dimension, Metric: metric}
	if err := core.ValidateCollection(want); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.backend.WithTx(func(tx *badger.Txn) error {
		have, err := readCollection(tx, name)
		if err == nil {
			return storage.CheckSchema(want, have)
		}
		if !errors.Is(err, storage.ErrCollectionNotFound) {
			return err
		}
		if err := tx.Set(makeCollectionKey(name), storage.MarshalCollection(want)); err != nil {
			return wrapBadger(err)
		}
		s.backend.logger.Info("created collection", "collection", name, "dimension", dimension, "metric", metric)
		return wrapBadger(tx.Commit())
	}, true)
}

// DescribeCollection returns the parameters of an existing collection.
func (s *Store) DescribeCollection(ctx context.Context, name string) (core.Collection, error) {
	var c core.Collection
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		c, err = readCollection(tx, name)
		return err
	}, false)
	return c, err
}

// Upsert inserts or overwrites records by ID.
// Vector and payload share one value, so each record is written atomically.
// Batches too large for one transaction are committed in several.
func (s *Store) Upsert(ctx context.Context, collection string, records ...core.Record) error {
	if len(records) == 0 {
		return nil
	}

	c, err := s.DescribeCollection(ctx, collection)
	if err != nil {
		return err
	}
	for i := range records {
		if err := storage.ValidateRecord(c, &records[i]); err != nil {
			return err
		}
	}

	tx, err := s.backend.NewTx(true)
	if err != nil {
		return err
	}
	defer func() { tx.Discard() }()

	for i := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := makeRecordKey(collection, records[i].Id)
		value := storage.MarshalRecord(&records[i])
		err := tx.Set(key, value)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := tx.Commit(); err != nil {
				return wrapBadger(err)
			}
			next, txErr := s.backend.NewTx(true)
			if txErr != nil {
				return txErr
			}
			tx = next
			err = tx.Set(key, value)
		}
		if err != nil {
			return wrapBadger(err)
		}
	}
	return wrapBadger(tx.Commit())
}

// Query returns up to k records ranked by cosine similarity.
// Ties are broken by ascending ID so results are deterministic.
func (s *Store) Query(ctx context.Context, collection string, vector []float32, k int) ([]core.ScoredRecord, error) {
	var results []core.ScoredRecord

	err := s.backend.WithTx(func(tx *badger.Txn) error {
		c, err := readCollection(tx, collection)
		if err != nil {
			return err
		}
		if err := storage.ValidateQuery(c, vector, k); err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeRecordPrefix(collection)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		visited := 0
		for iter.Rewind(); iter.Valid(); iter.Next() {
			visited++
			if visited%cancelCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			var record *core.Record
			err := iter.Item().Value(func(val []byte) error {
				var err error
				record, err = storage.UnmarshalRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			results = append(results, core.ScoredRecord{
				Record: *record,
				Score:  core.CosineSimilarity(vector, record.Vector),
			})
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(results, func(a, b core.ScoredRecord) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.Record.Id, b.Record.Id)
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Count returns the number of records in the collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	count := 0
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		if _, err := readCollection(tx, collection); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = makeRecordPrefix(collection)
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return ctx.Err()
	}, false)
	return count, err
}

// DeleteBySource removes the stale records of one source document.
// Matching records are collected under a read transaction and deleted in as
// few write transactions as badger allows.
func (s *Store) DeleteBySource(ctx context.Context, collection, sourceReference string, keep ...core.ID) (int, error) {
	if sourceReference == "" {
		return 0, fmt.Errorf("%w: source reference is required", storage.ErrInvalidQuery)
	}
	kept := make(map[core.ID]struct{}, len(keep))
	for _, id := range keep {
		kept[id] = struct{}{}
	}

	var stale [][]byte
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		if _, err := readCollection(tx, collection); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeRecordPrefix(collection)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		visited := 0
		for iter.Rewind(); iter.Valid(); iter.Next() {
			visited++
			if visited%cancelCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			item := iter.Item()
			var record *core.Record
			err := item.Value(func(val []byte) error {
				var err error
				record, err = storage.UnmarshalRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			if record.Payload.SourceReference != sourceReference {
				continue
			}
			if _, ok := kept[record.Id]; ok {
				continue
			}
			stale = append(stale, item.KeyCopy(nil))
		}
		return nil
	}, false)
	if err != nil || len(stale) == 0 {
		return 0, err
	}

	tx, err := s.backend.NewTx(true)
	if err != nil {
		return 0, err
	}
	defer func() { tx.Discard() }()

	for _, key := range stale {
		err := tx.Delete(key)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := tx.Commit(); err != nil {
				return 0, wrapBadger(err)
			}
			next, txErr := s.backend.NewTx(true)
			if txErr != nil {
				return 0, txErr
			}
			tx = next
			err = tx.Delete(key)
		}
		if err != nil {
			return 0, wrapBadger(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapBadger(err)
	}
	return len(stale), nil
}

// Scan visits the records of collection in ascending ID order.
// Batches are handed to fn outside the read transaction.
func (s *Store) Scan(ctx context.Context, collection string, batchSize int, fn func([]core.Record) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", storage.ErrInvalidQuery, batchSize)
	}
	var after []byte
	for {
		batch, last, err := s.scanBatch(ctx, collection, after, batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
		after = last
	}
}

// scanBatch reads up to n records whose keys sort after the given key.
func (s *Store) scanBatch(ctx context.Context, collection string, after []byte, n int) ([]core.Record, []byte, error) {
	batch := make([]core.Record, 0, n)
	var last []byte
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		if _, err := readCollection(tx, collection); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeRecordPrefix(collection)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		if after == nil {
			iter.Rewind()
		} else {
			iter.Seek(after)
			if iter.Valid() && bytes.Equal(iter.Item().Key(), after) {
				iter.Next()
			}
		}
		for ; iter.Valid() && len(batch) < n; iter.Next() {
			item := iter.Item()
			var record *core.Record
			err := item.Value(func(val []byte) error {
				var err error
				record, err = storage.UnmarshalRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			batch = append(batch, *record)
			last = item.KeyCopy(nil)
		}
		return nil
	}, false)
	return batch, last, err
}

func readCollection(tx *badger.Txn, name string) (core.Collection, error) {
	item, err := tx.Get(makeCollectionKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return core.Collection{}, fmt.Errorf("%w: %s", storage.ErrCollectionNotFound, name)
	}
	if err != nil {
		return core.Collection{}, wrapBadger(err)
	}
	var c core.Collection
	err = item.Value(func(val []byte) error {
		c, err = storage.UnmarshalCollection(val)
		return err
	})
	return c, err
}

// wrapBadger maps badger failures onto the store error taxonomy.
func wrapBadger(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrDBClosed):
		return storage.ErrStorageClosed
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", core.ErrStore, err)
	}
}
