package segment

import (
	"fmt"

	"github.com/poiesic/folio/core"
)

const (
	// DefaultMaxChars is the default upper bound on chunk length in characters.
	DefaultMaxChars = 1200
	// DefaultOverlap is the default number of characters shared by consecutive chunks.
	DefaultOverlap = 50
)

// Segment is one chunk cut from a document, with its classification.
type Segment struct {
	Span
	Position    int
	ContentType core.ContentType
}

// Segmenter normalizes documents and cuts them into chunks with fixed size parameters.
// A Segmenter is immutable and safe for concurrent use.
type Segmenter struct {
	maxChars int
	overlap  int
}

// Option configures a Segmenter.
type Option func(*Segmenter) error

// WithMaxChars sets the maximum chunk length.
func WithMaxChars(n int) Option {
	return func(s *Segmenter) error {
		if n <= 0 {
			return ErrInvalidMaxChars
		}
		s.maxChars = n
		return nil
	}
}

// WithOverlap sets the overlap between consecutive chunks.
func WithOverlap(n int) Option {
	return func(s *Segmenter) error {
		if n < 0 {
			return ErrInvalidOverlap
		}
		s.overlap = n
		return nil
	}
}

// New creates a Segmenter. Without options it uses DefaultMaxChars and DefaultOverlap.
func New(opts ...Option) (*Segmenter, error) {
	s := &Segmenter{
		maxChars: DefaultMaxChars,
		overlap:  DefaultOverlap,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MaxChars returns the configured chunk size.
func (s *Segmenter) MaxChars() int {
	return s.maxChars
}

// Overlap returns the configured chunk overlap.
func (s *Segmenter) Overlap() int {
	return s.overlap
}

// Extract converts raw markup to plain text, choosing the HTML or markdown path.
func (s *Segmenter) Extract(raw string, isHTML bool) (string, error) {
	if isHTML || LooksLikeHTML(raw) {
		text, err := NormalizeHTML(raw)
		if err != nil {
			return "", fmt.Errorf("%w: parse html: %w", core.ErrInput, err)
		}
		return text, nil
	}
	return Normalize(raw), nil
}

// Segment chunks already-normalized text and classifies every chunk.
func (s *Segmenter) Segment(text string) ([]Segment, error) {
	spans, err := Split(text, s.maxChars, s.overlap)
	if err != nil {
		return nil, err
	}
	segments := make([]Segment, len(spans))
	for i, span := range spans {
		segments[i] = Segment{
			Span:        span,
			Position:    i,
			ContentType: classifyNormalized(span.Text),
		}
	}
	return segments, nil
}
