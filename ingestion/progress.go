package ingestion

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker reports ingestion progress to a writer, typically os.Stderr.
type ProgressTracker struct {
	writer    io.Writer
	total     int
	documents int
	chunks    int
	startTime time.Time
	started   bool
	mu        sync.Mutex
}

// NewProgressTracker creates a progress tracker writing to writer.
func NewProgressTracker(writer io.Writer) *ProgressTracker {
	return &ProgressTracker{writer: writer}
}

// Start begins tracking a run over total documents.
func (p *ProgressTracker) Start(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.started = true
	p.total = total
	p.documents = 0
	p.chunks = 0
}

// Done records one finished document and the chunks it stored.
func (p *ProgressTracker) Done(chunks int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	p.documents++
	if p.documents > p.total {
		p.documents = p.total
	}
	p.chunks += chunks
	p.report()
}

// Finish prints the final progress line.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	p.report()
	fmt.Fprintln(p.writer)
	p.started = false
}

// Elapsed returns the time elapsed since Start was called.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0
	}
	return time.Since(p.startTime)
}

// report prints the current progress. Must be called with lock held.
func (p *ProgressTracker) report() {
	elapsed := time.Since(p.startTime)
	rate := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(p.chunks) / secs
	}

	percentage := 0.0
	if p.total > 0 {
		percentage = float64(p.documents) / float64(p.total) * 100.0
	}

	fmt.Fprintf(p.writer, "\rProgress: %d/%d documents (%.1f%%) - %d chunks, %.1f chunks/s",
		p.documents, p.total, percentage, p.chunks, rate)
}
