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


package core

import (
	"encoding/binary"
	"strconv"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for stored chunks.
// It is derived from chunk content so re-ingesting identical content yields identical IDs.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ChunkID derives the stable ID of a chunk from its origin and contents.
// Two chunks with equal text from different sources or positions get distinct IDs.
func ChunkID(sourceReference string, position int, text string) ID {
	return IDFromContent(sourceReference + "\x00" + strconv.Itoa(position) + "\x00" + text)
}

// ContentType classifies the dominant kind of content within a chunk.
type ContentType string

const (
	ContentTypeParagraph ContentType = "paragraph"
	ContentTypeCode      ContentType = "code"
	ContentTypeTable     ContentType = "table"
	ContentTypeMath      ContentType = "math"
)

// Metric names the distance function a collection is bound to.
type Metric string

const (
	// MetricCosine ranks by cosine similarity, higher is closer.
	MetricCosine Metric = "cosine"
)

// Chunk is a contiguous span of normalized text extracted from one source document.
type Chunk struct {
	Id              ID
	Text            string
	SourceReference string // URL or path of the originating document
	Position        int    // zero-based ordinal within the source document
	ContentType     ContentType
	Title           string            // Optional document title
	Extra           map[string]string // Optional open metadata carried into the payload
}

// Payload is the typed form of the key-value map stored next to each vector.
type Payload struct {
	Text            string
	SourceReference string
	Position        int
	ContentType     ContentType
	Title           string
	Extra           map[string]string
}

// Record is one (id, vector, payload) triple held by a collection.
type Record struct {
	Id      ID
	Vector  []float32
	Payload Payload
}

// Collection binds a name to an embedding dimension and distance metric.
type Collection struct {
	Name      string
	Dimension int
	Metric    Metric
}

// ScoredRecord is a record returned by a similarity query.
type ScoredRecord struct {
	Record Record
	Score  float32
}

// RetrievalHit is one ranked element of a Retrieval Result.
type RetrievalHit struct {
	Chunk Chunk
	Score float32
}

// Source is a provenance entry attached to a generated answer.
type Source struct {
	SourceReference string `json:"source_reference"`
	Snippet         string `json:"snippet"`
}

// ToPayload converts a chunk into its stored payload form.
func (c *Chunk) ToPayload() Payload {
	return Payload{
		Text:            c.Text,
		SourceReference: c.SourceReference,
		Position:        c.Position,
		ContentType:     c.ContentType,
		Title:           c.Title,
		Extra:           c.Extra,
	}
}

// ChunkFromRecord rebuilds a Chunk from a stored record.
func ChunkFromRecord(r *Record) Chunk {
	return Chunk{
		Id:              r.Id,
		Text:            r.Payload.Text,
		SourceReference: r.Payload.SourceReference,
		Position:        r.Payload.Position,
		ContentType:     r.Payload.ContentType,
		Title:           r.Payload.Title,
		Extra:           r.Payload.Extra,
	}
}
