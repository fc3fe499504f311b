package segment

import (
	"strings"
)

// Span is one chunk of a larger text. Start and End are rune offsets into the
// text the span was cut from; Text is the runes in [Start, End).
type Span struct {
	Start int
	End   int
	Text  string
}

// boundary classes in order of preference
var boundaryClasses = []func(window []rune, i int) bool{
	func(w []rune, i int) bool {
		return (w[i] == '.' || w[i] == '!' || w[i] == '?') && i+1 < len(w) && w[i+1] == ' '
	},
	func(w []rune, i int) bool { return w[i] == '\n' },
	func(w []rune, i int) bool { return w[i] == ',' && i+1 < len(w) && w[i+1] == ' ' },
}

// Chunk splits text into chunks of at most maxChars characters that overlap
// by up to overlap characters. Text that already fits is returned as the only
// chunk. Chunks that are blank after trimming are dropped.
func Chunk(text string, maxChars, overlap int) ([]string, error) {
	spans, err := Split(text, maxChars, overlap)
	if err != nil {
		return nil, err
	}
	chunks := make([]string, len(spans))
	for i, s := range spans {
		chunks[i] = s.Text
	}
	return chunks, nil
}

// Split is Chunk with the position of every chunk retained.
func Split(text string, maxChars, overlap int) ([]Span, error) {
	if maxChars <= 0 {
		return nil, ErrInvalidMaxChars
	}
	if overlap < 0 {
		return nil, ErrInvalidOverlap
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	n := len(runes)
	if n <= maxChars {
		return []Span{{Start: 0, End: n, Text: text}}, nil
	}

	var spans []Span
	start := 0
	for start < n {
		end := start + maxChars
		if end >= n {
			end = n
		} else if cut := findBoundary(runes[start:end]); cut > 0 {
			end = start + cut
		}

		if piece := string(runes[start:end]); strings.TrimSpace(piece) != "" {
			spans = append(spans, Span{Start: start, End: end, Text: piece})
		}
		if end >= n {
			break
		}

		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return spans, nil
}

// findBoundary returns the exclusive cut offset within window, or 0 for a
// hard cut. Only the most preferred class present in the window is
// considered: when its last occurrence ends at or before the midpoint the
// window is hard cut. The punctuation or newline that forms the boundary
// stays with the chunk it ends.
func findBoundary(window []rune) int {
	mid := len(window) / 2
	for _, matches := range boundaryClasses {
		for i := len(window) - 1; i >= 0; i-- {
			if !matches(window, i) {
				continue
			}
			if cut := i + 1; cut > mid {
				return cut
			}
			return 0
		}
	}
	return 0
}
