// Package ingestion turns source documents into stored, embedded chunks.
//
// Each document moves through fetched, extracted, chunked, embedded and
// stored. A document with no recoverable text is skipped; a chunk that cannot
// be embedded or stored is logged and counted while the rest of the document
// continues. Chunk IDs are derived from the source reference, position and
// text, so ingesting unchanged content again overwrites the same records.
package ingestion
