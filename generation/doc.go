// Package generation answers questions from retrieved textbook passages.
//
// Each call to Engine.Answer walks a fixed state machine:
//
//	idle -> awaiting_retrieval -> retrieved -> answering -> done
//
// with error reachable from every non-terminal state. Retrieval is performed
// by the engine itself before the language model is invoked. The result is
// handed to the model as a completed search_textbook tool call, and the model
// may request further searches for a bounded number of rounds.
//
// When retrieval finds nothing, or the model declines to answer from the
// passages, the engine returns FallbackAnswer with no sources. Sources are
// always drawn from the passages retrieved during the current turn.
package generation
