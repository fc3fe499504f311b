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


// Package ai provides abstractions for the AI services used by Folio.
//
// This package defines interfaces for text embedding and access to the chat
// model that generates answers. Retrieval, ingestion and generation depend on
// these abstractions rather than on concrete provider clients.
//
// # Design Principles
//
// The package is designed around two interfaces:
//
//   - Embedder: Generates vector embeddings from text, in document or query mode
//   - AIProvider: Aggregates the embedder and chat model for lifecycle management
//
// Concrete implementations live in sub-packages:
//
//   - ai/openai: OpenAI-compatible services through langchaingo
//   - ai/mock: Test doubles with deterministic behavior
//
// # Configuration
//
// Config carries provider hosts, model names, the expected embedding
// dimension and the timeout and retry budget applied to every call.
//
//	cfg := ai.NewConfig(
//	    ai.WithHost("http://localhost:11434"),
//	    ai.WithEmbeddingModel("embeddinggemma"),
//	    ai.WithDimension(768),
//	)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use by multiple
// in-flight requests.
package ai
