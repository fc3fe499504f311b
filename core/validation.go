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
	"fmt"
	"strings"
)

// ValidateChunk validates a Chunk according to domain rules.
//
// Validation rules:
//   - Text must not be empty after trimming
//   - SourceReference must not be empty
//   - Position must not be negative
//
// NOT validated:
//   - ID (derived at ingestion time)
//   - ContentType (classified heuristically, empty defaults to paragraph)
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}

	if strings.TrimSpace(chunk.Text) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyText)
	}

	if chunk.SourceReference == "" {
		return fmt.Errorf("%w: source reference is required", ErrInvalidChunk)
	}

	if chunk.Position < 0 {
		return fmt.Errorf("%w: position %d is negative", ErrInvalidChunk, chunk.Position)
	}

	return nil
}

// ValidateCollection validates collection parameters.
func ValidateCollection(c Collection) error {
	if c.Name == "" {
		return fmt.Errorf("%w: collection name is required", ErrInput)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInput, c.Dimension)
	}
	if c.Metric != MetricCosine {
		return fmt.Errorf("%w: unsupported metric %q", ErrInput, c.Metric)
	}
	return nil
}

// ValidateVector checks a vector against the dimension of its collection.
func ValidateVector(vector []float32, dimension int) error {
	if len(vector) != dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dimension, len(vector))
	}
	return nil
}
