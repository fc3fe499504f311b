// Package segment converts raw document markup into plain text and splits
// that text into bounded, overlapping chunks suitable for embedding.
//
// Chunk boundaries are chosen inside the trailing window of each chunk in
// this order of preference:
//
//  1. sentence-ending punctuation followed by a space (". ", "! ", "? ")
//  2. a newline
//  3. a comma followed by a space
//  4. a hard cut at the maximum chunk size
//
// A boundary located at or before the middle of the window is rejected and
// the next class is tried. Output is fully determined by the input text and
// the size parameters.
package segment
