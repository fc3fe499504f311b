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


// Package storage provides the vector store abstraction for folio.
//
// A VectorStore holds named collections. Each collection is bound to an
// embedding dimension and a distance metric when it is created, and those
// parameters never change afterwards: asking for an existing collection with
// different parameters fails with *core.SchemaConflictError instead of
// recreating it.
//
// # Implementations
//
//   - badger: embedded BadgerDB store with exact cosine scan, used for local
//     runs and tests.
//   - qdrant: client for a Qdrant server over its REST API.
//
// Both are constructed through their own packages:
//
//	store, err := badger.Open("/var/lib/folio")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// Use in tests with in-memory storage:
//
//	store, err := badger.NewMemoryStore()
//
// # Records
//
// A core.Record carries its vector and payload together. Stores write both in
// one operation so readers never see one without the other. Records are keyed
// by core.ID; writing the same ID again overwrites the previous record.
//
// # Errors
//
// Errors wrap the core taxonomy. Availability failures wrap
// core.ErrStoreUnavailable and may be retried; schema conflicts and
// dimension mismatches may not.
package storage
