// Package reembed copies the chunks of a collection into another collection
// with vectors from a different embedding model.
//
// Stored payloads already hold the normalized chunk text, so documents are
// not fetched or segmented again. Records keep their IDs, which makes an
// interrupted run safe to repeat.
package reembed
