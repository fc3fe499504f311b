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


// Package search retrieves the stored chunks most relevant to a question.
//
// The Retriever embeds the question in query mode, asks the vector store for
// the nearest chunks by cosine similarity and returns them ranked by score.
// An empty collection, or one where nothing clears the minimum score, yields
// an empty result rather than an error: having no evidence is an expected
// outcome that the generation step turns into its fallback answer.
//
// A Monitor can observe each stage of a retrieval, which the CLI uses to
// print scores in verbose mode.
package search
