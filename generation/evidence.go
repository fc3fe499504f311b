package generation

import (
	"regexp"
	"strconv"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/search"
)

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// evidence accumulates the hits retrieved during one turn.
// Passages are numbered from 1 in the order they first appear.
type evidence struct {
	hits  []core.RetrievalHit
	index map[core.ID]int
}

func newEvidence() *evidence {
	return &evidence{index: make(map[core.ID]int)}
}

// add records hits and returns the number of each one.
func (e *evidence) add(hits []core.RetrievalHit) []int {
	numbers := make([]int, len(hits))
	for i, hit := range hits {
		n, ok := e.index[hit.Chunk.Id]
		if !ok {
			e.hits = append(e.hits, hit)
			n = len(e.hits)
			e.index[hit.Chunk.Id] = n
		}
		numbers[i] = n
	}
	return numbers
}

func (e *evidence) empty() bool {
	return len(e.hits) == 0
}

// cited returns the passages referenced as [n] in text, in citation order.
// Numbers outside the evidence are ignored.
func (e *evidence) cited(text string) []core.RetrievalHit {
	var out []core.RetrievalHit
	seen := make(map[int]bool)
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(e.hits) || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, e.hits[n-1])
	}
	return out
}

// sources builds one Source per distinct reference among the answer's citations.
// An answer without valid citations is attributed to all evidence.
func (e *evidence) sources(answer, query string, snippetLen int) []core.Source {
	used := e.cited(answer)
	if len(used) == 0 {
		used = e.hits
	}
	sources := make([]core.Source, 0, len(used))
	seen := make(map[string]bool)
	for _, hit := range used {
		ref := hit.Chunk.SourceReference
		if seen[ref] {
			continue
		}
		seen[ref] = true
		sources = append(sources, core.Source{
			SourceReference: ref,
			Snippet:         search.Snippet(hit.Chunk.Text, query, snippetLen),
		})
	}
	return sources
}
