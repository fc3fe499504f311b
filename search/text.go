package search

import (
	"strings"
	"unicode"
)

// DefaultSnippetLength bounds the snippets returned with answer sources.
const DefaultSnippetLength = 240

// Stop words ignored when matching query terms against passage text
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "what": true, "how": true, "why": true, "does": true,
}

// tokenizeAndFilter splits text into words, lowercases, trims punctuation, and removes stop words
func tokenizeAndFilter(text string) []string {
	words := strings.Fields(text)
	filtered := make([]string, 0, len(words))

	for _, word := range words {
		cleaned := strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}))
		if cleaned != "" && !stopWords[cleaned] {
			filtered = append(filtered, cleaned)
		}
	}

	return filtered
}

// termOverlap counts the distinct query terms present in text.
func termOverlap(text string, queryTerms map[string]bool) int {
	seen := make(map[string]bool)
	for _, word := range tokenizeAndFilter(text) {
		if queryTerms[word] {
			seen[word] = true
		}
	}
	return len(seen)
}

// Snippet picks the sentence of passage sharing the most terms with query,
// the first sentence when none do, and shortens it to at most maxLen runes
// on a word boundary.
func Snippet(passage, query string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultSnippetLength
	}

	terms := make(map[string]bool)
	for _, t := range tokenizeAndFilter(query) {
		terms[t] = true
	}

	best, bestScore := "", -1
	for _, sentence := range splitSentences(passage) {
		if score := termOverlap(sentence, terms); score > bestScore {
			best, bestScore = sentence, score
		}
	}
	return truncate(best, maxLen)
}

// splitSentences splits on sentence-ending punctuation followed by whitespace
// and on paragraph breaks. Empty sentences are dropped.
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0
	flush := func(end int) {
		if s := strings.Join(strings.Fields(string(runes[start:end])), " "); s != "" {
			sentences = append(sentences, s)
		}
		start = end
	}
	for i := 0; i < len(runes); i++ {
		switch {
		case (runes[i] == '.' || runes[i] == '!' || runes[i] == '?') && i+1 < len(runes) && unicode.IsSpace(runes[i+1]):
			flush(i + 1)
		case runes[i] == '\n' && i+1 < len(runes) && runes[i+1] == '\n':
			flush(i + 1)
		}
	}
	flush(len(runes))
	return sentences
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	cut := maxLen - 3
	if cut < 1 {
		return string(runes[:maxLen])
	}
	for i := cut; i > cut/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace) + "..."
}
