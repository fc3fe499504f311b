package ingestion

import (
	"time"
)

// Document is one source document waiting to be ingested.
type Document struct {
	Reference string // URL or path, stored as the chunk source reference
	Raw       string // raw markdown or HTML
	IsHTML    bool
	Title     string
	Extra     map[string]string // copied into every chunk payload
}

// State is a step of the per-document ingestion state machine.
type State string

const (
	StateFetched   State = "fetched"
	StateExtracted State = "extracted"
	StateChunked   State = "chunked"
	StateEmbedded  State = "embedded"
	StateStored    State = "stored"
)

// Status is the outcome of ingesting one document.
type Status string

const (
	// StatusStored means at least one chunk reached the store.
	StatusStored Status = "stored"
	// StatusSkipped means no text was recovered, so there was nothing to store.
	StatusSkipped Status = "skipped"
	// StatusFailed means the document could not be fetched or none of its chunks were stored.
	StatusFailed Status = "failed"
)

// DocumentReport records how far one document progressed.
type DocumentReport struct {
	Reference    string
	Status       Status
	State        State // last state reached
	Chunks       int   // chunks produced by segmentation
	Stored       int   // chunks upserted
	FailedChunks int   // chunks that could not be embedded or stored
	Superseded   int   // chunks left by an earlier version of the document and removed
	Err          error // first error encountered, if any
}

// Report summarizes one ingestion run.
type Report struct {
	Documents []DocumentReport
	Elapsed   time.Duration
}

// ChunksStored is the number of chunks that reached the store across the run.
func (r *Report) ChunksStored() int {
	total := 0
	for i := range r.Documents {
		total += r.Documents[i].Stored
	}
	return total
}

// Count returns the number of documents with the given status.
func (r *Report) Count(status Status) int {
	n := 0
	for i := range r.Documents {
		if r.Documents[i].Status == status {
			n++
		}
	}
	return n
}

func (r *Report) merge(other *Report) {
	r.Documents = append(r.Documents, other.Documents...)
}
