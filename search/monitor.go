package search

import (
	"fmt"
	"io"

	"github.com/poiesic/folio/core"
)

// Monitor provides hooks to observe the retrieval process.
// Implement this interface to track intermediate steps and results.
type Monitor interface {
	Start(query string, k int)
	AfterEmbedding(vector []float32)
	AfterQuery(results []core.ScoredRecord)
	BelowThreshold(record *core.Record, score, minScore float32)
	Finish(hits []core.RetrievalHit)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string, _ int)                          {}
func (n *noopMonitor) AfterEmbedding(_ []float32)                     {}
func (n *noopMonitor) AfterQuery(_ []core.ScoredRecord)               {}
func (n *noopMonitor) BelowThreshold(_ *core.Record, _, _ float32)    {}
func (n *noopMonitor) Finish(_ []core.RetrievalHit)                   {}

// WriterMonitor prints each retrieval stage to a writer.
type WriterMonitor struct {
	w io.Writer
}

var _ Monitor = (*WriterMonitor)(nil)

// NewWriterMonitor creates a monitor that writes to w.
func NewWriterMonitor(w io.Writer) *WriterMonitor {
	return &WriterMonitor{w: w}
}

func (m *WriterMonitor) Start(query string, k int) {
	fmt.Fprintf(m.w, "query: %q (k=%d)\n", query, k)
}

func (m *WriterMonitor) AfterEmbedding(vector []float32) {
	fmt.Fprintf(m.w, "embedded query: %d dimensions\n", len(vector))
}

func (m *WriterMonitor) AfterQuery(results []core.ScoredRecord) {
	fmt.Fprintf(m.w, "store returned %d candidates\n", len(results))
}

func (m *WriterMonitor) BelowThreshold(record *core.Record, score, minScore float32) {
	fmt.Fprintf(m.w, "  dropped %s#%d: score %.4f < %.4f\n",
		record.Payload.SourceReference, record.Payload.Position, score, minScore)
}

func (m *WriterMonitor) Finish(hits []core.RetrievalHit) {
	for i, hit := range hits {
		fmt.Fprintf(m.w, "  %d. %.4f %s#%d\n", i+1, hit.Score, hit.Chunk.SourceReference, hit.Chunk.Position)
	}
}
