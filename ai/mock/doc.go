// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, llms.Model and
// ai.AIProvider for use in unit tests. The mocks allow tests to run without
// external AI service dependencies and enable controlled, deterministic behavior.
//
// # Usage in Tests
//
//	// Deterministic embeddings
//	embedder := mock.NewMockEmbedderWithDimension(16)
//	vec, err := embedder.Embed(ctx, "test", ai.ModeQuery)
//
//	// Scripted model replies
//	model := mock.NewMockModel(
//	    mock.ToolCallReply("call-1", "search_textbook", `{"query":"attention"}`),
//	    mock.TextResponse("Attention weighs tokens [1]."),
//	)
//
//	// Check call counts
//	count := model.CallCount()
//
// # Default Behavior
//
// The mock implementations provide sensible defaults:
//
//   - MockEmbedder: Returns bag-of-words unit vectors, so texts sharing words score higher
//   - MockModel: Replays scripted responses and fails once they run out
//   - MockProvider: Aggregates mock embedder and model
package mock
