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

package reembed

import (
	"context"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/storage"
)

const (
	// DefaultBatchSize is the default number of records to fetch in each batch
	DefaultBatchSize = 100
)

// RecordIterator iterates over all records of a collection in batches.
type RecordIterator struct {
	store      storage.Scanner
	collection string
	batchSize  int
}

// NewRecordIterator creates a new record iterator.
// batchSize: number of records to fetch in each batch (defaults when <= 0)
func NewRecordIterator(store storage.Scanner, collection string, batchSize int) *RecordIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &RecordIterator{
		store:      store,
		collection: collection,
		batchSize:  batchSize,
	}
}

// ForEach calls fn for each batch of records in ascending ID order.
// Iteration stops on the first error from fn or when ctx is done.
func (it *RecordIterator) ForEach(ctx context.Context, fn func([]core.Record) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return it.store.Scan(ctx, it.collection, it.batchSize, func(batch []core.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(batch)
	})
}
