package storage

import (
	"fmt"
	"strings"

	"github.com/poiesic/folio/core"
)

// ValidateRecord checks a record against the collection it is written to.
func ValidateRecord(c core.Collection, r *core.Record) error {
	if err := core.ValidateVector(r.Vector, c.Dimension); err != nil {
		return fmt.Errorf("record %d: %w", r.Id, err)
	}
	if strings.TrimSpace(r.Payload.Text) == "" {
		return fmt.Errorf("%w: record %d: payload text is empty", ErrInvalidRecord, r.Id)
	}
	if r.Payload.SourceReference == "" {
		return fmt.Errorf("%w: record %d: payload source reference is empty", ErrInvalidRecord, r.Id)
	}
	return nil
}

// ValidateQuery checks query parameters against the collection.
func ValidateQuery(c core.Collection, vector []float32, k int) error {
	if k <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", ErrInvalidQuery, k)
	}
	return core.ValidateVector(vector, c.Dimension)
}

// CheckSchema compares requested collection parameters with existing ones.
func CheckSchema(want, have core.Collection) error {
	if want.Dimension != have.Dimension || want.Metric != have.Metric {
		return &core.SchemaConflictError{Collection: want.Name, Want: want, Have: have}
	}
	return nil
}
