package generation

import (
	"fmt"
	"strings"

	"github.com/poiesic/folio/core"
)

// FallbackAnswer is returned whenever the evidence cannot support an answer.
const FallbackAnswer = "The textbook does not cover this."

const systemPrompt = `You are a tutor answering questions about a textbook.
Answer ONLY from the numbered passages returned by the search_textbook tool.
Cite every passage you rely on with its number in square brackets, for example [1].
Never use outside knowledge. If the passages do not answer the question, reply with exactly:
` + FallbackAnswer + `
You may call search_textbook again with a more specific query if the passages are incomplete.`

// formatEvidence renders hits as passages labeled with their evidence numbers.
func formatEvidence(hits []core.RetrievalHit, numbers []int) string {
	if len(hits) == 0 {
		return "No passages found."
	}
	var b strings.Builder
	for i, hit := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] (source: %s)\n%s", numbers[i], hit.Chunk.SourceReference, hit.Chunk.Text)
	}
	return b.String()
}

// isFallback reports whether the model declined to answer: the reply ends
// with the fallback sentence and cites no passage.
func isFallback(text string) bool {
	if citationPattern.MatchString(text) {
		return false
	}
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	normalized = strings.TrimRight(normalized, ".! ")
	return strings.HasSuffix(normalized, "does not cover this")
}
