// Package qdrant implements storage.VectorStore over the Qdrant REST API.
//
// Collections are created with cosine distance. Point IDs are the unsigned
// 64-bit chunk IDs, and payload fields are stored under snake_case keys so
// other Qdrant clients can read them.
package qdrant
