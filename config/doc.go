// Package config loads process configuration for the folio binaries.
//
// Configuration is read from a YAML file (see Load and LoadDefault) and then
// overridden from FOLIO_* environment variables:
//
//	FOLIO_EMBEDDING_HOST, FOLIO_CHAT_HOST, FOLIO_EMBEDDING_MODEL, FOLIO_CHAT_MODEL,
//	FOLIO_API_KEY, FOLIO_DIMENSION, FOLIO_STORE, FOLIO_STORE_PATH, FOLIO_QDRANT_URL,
//	FOLIO_QDRANT_API_KEY, FOLIO_COLLECTION, FOLIO_CHUNK_MAX, FOLIO_CHUNK_OVERLAP,
//	FOLIO_TOP_K, FOLIO_MIN_SCORE, FOLIO_WORKERS, FOLIO_ADDR
//
// The CLI loads a .env file into the environment before calling Load.
package config
