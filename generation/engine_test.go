package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/poiesic/folio/ai/mock"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/ingestion"
	"github.com/poiesic/folio/search"
	"github.com/poiesic/folio/storage/badger"
)

// fakeRetriever returns canned hits per query and records every call.
type fakeRetriever struct {
	mu      sync.Mutex
	results map[string][]core.RetrievalHit
	err     error
	queries []string
}

func (r *fakeRetriever) Retrieve(ctx context.Context, query string, k int) ([]core.RetrievalHit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	if r.err != nil {
		return nil, r.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.results[query], nil
}

func (r *fakeRetriever) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}

func hit(id core.ID, ref, text string, score float32) core.RetrievalHit {
	return core.RetrievalHit{
		Chunk: core.Chunk{Id: id, Text: text, SourceReference: ref},
		Score: score,
	}
}

func fastRetry() Option {
	return WithRetryPolicy(core.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond})
}

func newTestEngine(t *testing.T, retriever Retriever, model llms.Model, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(retriever, model, append([]Option{fastRetry()}, opts...)...)
	require.NoError(t, err)
	return e
}

// toolResponses returns every tool response part sent in messages.
func toolResponses(messages []llms.MessageContent) []llms.ToolCallResponse {
	var out []llms.ToolCallResponse
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if resp, ok := part.(llms.ToolCallResponse); ok {
				out = append(out, resp)
			}
		}
	}
	return out
}

func TestNewEngine(t *testing.T) {
	model := mock.NewMockModel()
	retriever := &fakeRetriever{}

	_, err := NewEngine(nil, model)
	assert.ErrorIs(t, err, ErrRetrieverRequired)

	_, err = NewEngine(retriever, nil)
	assert.ErrorIs(t, err, ErrModelRequired)

	invalid := []Option{
		WithK(0),
		WithMaxToolRounds(-1),
		WithCallTimeout(0),
		WithRetryPolicy(core.RetryPolicy{}),
		WithTemperature(3),
		WithSnippetLength(0),
	}
	for _, opt := range invalid {
		_, err := NewEngine(retriever, model, opt)
		assert.ErrorIs(t, err, core.ErrInput)
	}
}

func TestAnswer_EmptyQuery(t *testing.T) {
	retriever := &fakeRetriever{}
	model := mock.NewMockModel()
	e := newTestEngine(t, retriever, model)

	_, err := e.Answer(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.ErrorIs(t, err, core.ErrInput)
	assert.Empty(t, retriever.calls())
	assert.Zero(t, model.CallCount())
}

func TestAnswer_NoEvidenceSkipsModel(t *testing.T) {
	retriever := &fakeRetriever{}
	model := mock.NewMockModel(mock.TextResponse("A guess."))
	e := newTestEngine(t, retriever, model)

	answer, err := e.Answer(context.Background(), "What is quantum chromodynamics?")
	require.NoError(t, err)

	assert.True(t, answer.Fallback)
	assert.ErrorIs(t, answer.Reason, core.ErrEvidenceInsufficient)
	assert.Equal(t, FallbackAnswer, answer.Text)
	assert.Empty(t, answer.Sources)
	assert.NotEqual(t, uuid.Nil, answer.TurnID)
	assert.Equal(t, []State{StateIdle, StateAwaitingRetrieval, StateRetrieved, StateDone}, answer.States)
	assert.Equal(t, []string{"What is quantum chromodynamics?"}, retriever.calls())
	assert.Zero(t, model.CallCount(), "model must not be invoked without evidence")
}

func TestAnswer_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	embedder := mock.NewMockEmbedderWithDimension(1024)

	pipeline, err := ingestion.NewPipeline(store, embedder)
	require.NoError(t, err)
	t.Cleanup(pipeline.Release)
	report, err := pipeline.Ingest(ctx,
		&ingestion.Document{Reference: "/ch1", Raw: "Photosynthesis converts light into chemical energy inside the chloroplast."},
		&ingestion.Document{Reference: "/ch2", Raw: "Newton described motion with three laws."},
		&ingestion.Document{Reference: "/ch3", Raw: "A transformer is a neural network architecture. It relies on self-attention to weigh every token."},
	)
	require.NoError(t, err)
	require.Equal(t, 3, report.ChunksStored())

	retriever, err := search.NewRetriever(embedder, store, search.WithMinScore(0.1))
	require.NoError(t, err)
	model := mock.NewMockModel(mock.TextResponse("A transformer is a neural network architecture built on self-attention [1]."))
	e := newTestEngine(t, retriever, model)

	answer, err := e.Answer(ctx, "What is a transformer?")
	require.NoError(t, err)

	assert.False(t, answer.Fallback)
	assert.NoError(t, answer.Reason)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "/ch3", answer.Sources[0].SourceReference)
	assert.Contains(t, answer.Sources[0].Snippet, "transformer")
	require.Len(t, answer.Evidence, 1)
	assert.Equal(t, []State{StateIdle, StateAwaitingRetrieval, StateRetrieved, StateAnswering, StateDone}, answer.States)

	require.Equal(t, 1, model.CallCount())
	messages := model.Calls()[0]
	assert.Equal(t, llms.ChatMessageTypeSystem, messages[0].Role)
	responses := toolResponses(messages)
	require.Len(t, responses, 1)
	assert.Contains(t, responses[0].Content, "[1] (source: /ch3)")
	assert.NotContains(t, responses[0].Content, "/ch1")

	opts := model.Options()[0]
	assert.Zero(t, opts.Temperature)
	require.Len(t, opts.Tools, 1)
	assert.Equal(t, SearchToolName, opts.Tools[0].Function.Name)
}

func TestAnswer_CitedSourcesOnly(t *testing.T) {
	query := "How does backpropagation work?"
	retriever := &fakeRetriever{results: map[string][]core.RetrievalHit{
		query: {
			hit(1, "/ch4", "Gradient descent updates weights.", 0.9),
			hit(2, "/ch5", "Backpropagation applies the chain rule layer by layer.", 0.8),
		},
	}}
	model := mock.NewMockModel(mock.TextResponse("It applies the chain rule backwards [2]. See also [7]."))
	e := newTestEngine(t, retriever, model)

	answer, err := e.Answer(context.Background(), query)
	require.NoError(t, err)

	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "/ch5", answer.Sources[0].SourceReference)
	assert.Equal(t, "Backpropagation applies the chain rule layer by layer.", answer.Sources[0].Snippet)
}

func TestAnswer_UncitedAnswerUsesAllEvidence(t *testing.T) {
	query := "What is entropy?"
	retriever := &fakeRetriever{results: map[string][]core.RetrievalHit{
		query: {
			hit(1, "/ch6", "Entropy measures disorder.", 0.9),
			hit(2, "/ch6", "Entropy never decreases in an isolated system.", 0.8),
			hit(3, "/ch7", "Entropy also appears in information theory.", 0.7),
		},
	}}
	model := mock.NewMockModel(mock.TextResponse("Entropy measures disorder."))
	e := newTestEngine(t, retriever, model)

	answer, err := e.Answer(context.Background(), query)
	require.NoError(t, err)

	refs := make([]string, len(answer.Sources))
	for i, s := range answer.Sources {
		refs[i] = s.SourceReference
	}
	assert.Equal(t, []string{"/ch6", "/ch7"}, refs)
}

func TestAnswer_ModelDeclines(t *testing.T) {
	query := "Who won the 1998 world cup?"
	retriever := &fakeRetriever{results: map[string][]core.RetrievalHit{
		query: {hit(1, "/ch1", "Photosynthesis converts light.", 0.3)},
	}}

	for name, reply := range map[string]string{
		"fallback sentence": "I'm sorry, the textbook does not cover this.",
		"empty content":     "  ",
	} {
		t.Run(name, func(t *testing.T) {
			model := mock.NewMockModel(mock.TextResponse(reply))
			e := newTestEngine(t, retriever, model)

			answer, err := e.Answer(context.Background(), query)
			require.NoError(t, err)
			assert.True(t, answer.Fallback)
			assert.Equal(t, FallbackAnswer, answer.Text)
			assert.Empty(t, answer.Sources)
			assert.Len(t, answer.Evidence, 1)
		})
	}
}

func TestAnswer_CitedAnswerQuotingFallbackPhrase(t *testing.T) {
	query := "How does attention scale?"
	retriever := &fakeRetriever{results: map[string][]core.RetrievalHit{
		query: {hit(1, "/ch3", "Self-attention is quadratic in sequence length.", 0.6)},
	}}
	reply := "The textbook does not cover this variant, but [1] shows attention is quadratic."
	e := newTestEngine(t, retriever, mock.NewMockModel(mock.TextResponse(reply)))

	answer, err := e.Answer(context.Background(), query)
	require.NoError(t, err)
	assert.False(t, answer.Fallback)
	assert.Equal(t, reply, answer.Text)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "/ch3", answer.Sources[0].SourceReference)
}

func TestAnswer_FollowUpSearch(t *testing.T) {
	query := "Explain transformers"
	retriever := &fakeRetriever{results: map[string][]core.RetrievalHit{
		query:            {hit(1, "/ch3", "A transformer is a neural network architecture.", 0.5)},
		"self-attention": {hit(2, "/ch3b", "Self-attention weighs every token against every other.", 0.6)},
	}}
	model := mock.NewMockModel(
		mock.ToolCallReply("call-1", SearchToolName, `{"query":"self-attention"}`),
		mock.TextResponse("Transformers rely on self-attention [2]."),
	)
	e := newTestEngine(t, retriever, model)

	answer, err := e.Answer(context.Background(), query)
	require.NoError(t, err)

	assert.Equal(t, []string{query, "self-attention"}, retriever.calls())
	assert.Equal(t, []State{
		StateIdle, StateAwaitingRetrieval, StateRetrieved, StateAnswering,
		StateAwaitingRetrieval, StateRetrieved, StateAnswering, StateDone,
	}, answer.States)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "/ch3b", answer.Sources[0].SourceReference)
	assert.Len(t, answer.Evidence, 2)

	require.Equal(t, 2, model.CallCount())
	responses := toolResponses(model.Calls()[1])
	require.Len(t, responses, 2)
	assert.Equal(t, "call-1", responses[1].ToolCallID)
	assert.Contains(t, responses[1].Content, "[2] (source: /ch3b)")
}

func TestAnswer_ToolRoundsExhausted(t *testing.T) {
	query := "Explain transformers"
	retriever := &fakeRetriever{results: map[string][]core.RetrievalHit{
		query: {hit(1, "/ch3", "A transformer is a neural network architecture.", 0.5)},
	}}
	model := mock.NewMockModel(mock.ToolCallReply("call-1", SearchToolName, `{"query":"more"}`))
	e := newTestEngine(t, retriever, model, WithMaxToolRounds(0))

	answer, err := e.Answer(context.Background(), query)
	require.NoError(t, err)

	assert.True(t, answer.Fallback)
	assert.Equal(t, []string{query}, retriever.calls())
	require.Equal(t, 1, model.CallCount())
	assert.Empty(t, model.Options()[0].Tools)
}

func TestAnswer_UnknownTool(t *testing.T) {
	query := "Explain transformers"
	retriever := &fakeRetriever{results: map[string][]core.RetrievalHit{
		query: {hit(1, "/ch3", "A transformer is a neural network architecture.", 0.5)},
	}}
	model := mock.NewMockModel(
		mock.ToolCallReply("call-1", "browse_web", `{"url":"https://example.com"}`),
		mock.TextResponse("A transformer is a neural network architecture [1]."),
	)
	e := newTestEngine(t, retriever, model)

	answer, err := e.Answer(context.Background(), query)
	require.NoError(t, err)

	assert.False(t, answer.Fallback)
	assert.Equal(t, []string{query}, retriever.calls())
	responses := toolResponses(model.Calls()[1])
	require.Len(t, responses, 2)
	assert.Contains(t, responses[1].Content, "Unknown tool")
}

func TestAnswer_ProviderError(t *testing.T) {
	query := "Explain transformers"
	retriever := &fakeRetriever{results: map[string][]core.RetrievalHit{
		query: {hit(1, "/ch3", "A transformer is a neural network architecture.", 0.5)},
	}}
	model := mock.NewMockModel()
	model.GenerateContentFunc = func(ctx context.Context, messages []llms.MessageContent, opts llms.CallOptions) (*llms.ContentResponse, error) {
		return nil, errors.New("502 bad gateway")
	}
	e := newTestEngine(t, retriever, model)

	var last State
	answer, err := e.Answer(context.Background(), query, WithObserver(func(from, to State) { last = to }))

	require.Error(t, err)
	assert.Nil(t, answer)
	assert.ErrorIs(t, err, core.ErrProvider)
	assert.True(t, core.IsRetryable(err))
	assert.Equal(t, StateError, last)
	assert.Equal(t, 2, model.CallCount(), "provider errors are retried")
}

func TestAnswer_RetrySucceeds(t *testing.T) {
	query := "Explain transformers"
	retriever := &fakeRetriever{results: map[string][]core.RetrievalHit{
		query: {hit(1, "/ch3", "A transformer is a neural network architecture.", 0.5)},
	}}
	model := mock.NewMockModel()
	calls := 0
	model.GenerateContentFunc = func(ctx context.Context, messages []llms.MessageContent, opts llms.CallOptions) (*llms.ContentResponse, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection reset")
		}
		return mock.TextResponse("A neural network architecture [1]."), nil
	}
	e := newTestEngine(t, retriever, model)

	answer, err := e.Answer(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, "A neural network architecture [1].", answer.Text)
	assert.Equal(t, 2, calls)
}

func TestAnswer_CallTimeout(t *testing.T) {
	query := "Explain transformers"
	retriever := &fakeRetriever{results: map[string][]core.RetrievalHit{
		query: {hit(1, "/ch3", "A transformer is a neural network architecture.", 0.5)},
	}}
	model := mock.NewMockModel()
	model.GenerateContentFunc = func(ctx context.Context, messages []llms.MessageContent, opts llms.CallOptions) (*llms.ContentResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	e := newTestEngine(t, retriever, model,
		WithCallTimeout(20*time.Millisecond),
		WithRetryPolicy(core.RetryPolicy{MaxAttempts: 1}),
	)

	_, err := e.Answer(context.Background(), query)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrProvider)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, core.IsRetryable(err))
}

func TestAnswer_MalformedResponse(t *testing.T) {
	query := "Explain transformers"
	retriever := &fakeRetriever{results: map[string][]core.RetrievalHit{
		query: {hit(1, "/ch3", "A transformer is a neural network architecture.", 0.5)},
	}}
	model := mock.NewMockModel(&llms.ContentResponse{}, &llms.ContentResponse{})
	e := newTestEngine(t, retriever, model)

	_, err := e.Answer(context.Background(), query)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestAnswer_RetrievalFailure(t *testing.T) {
	retriever := &fakeRetriever{err: core.ErrStoreUnavailable}
	model := mock.NewMockModel(mock.TextResponse("unused"))
	e := newTestEngine(t, retriever, model)

	var states []State
	_, err := e.Answer(context.Background(), "anything", WithObserver(func(from, to State) { states = append(states, to) }))

	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.Equal(t, []State{StateAwaitingRetrieval, StateError}, states)
	assert.Zero(t, model.CallCount())
}

func TestAnswer_CanceledSkipsGeneration(t *testing.T) {
	query := "Explain transformers"
	retriever := &fakeRetriever{results: map[string][]core.RetrievalHit{
		query: {hit(1, "/ch3", "A transformer is a neural network architecture.", 0.5)},
	}}
	model := mock.NewMockModel(mock.TextResponse("unused"))
	e := newTestEngine(t, retriever, model)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Answer(ctx, query)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, core.IsRetryable(err))
	assert.Zero(t, model.CallCount())
}

func TestAnswer_HistoryNeverSuppliesSources(t *testing.T) {
	first := "What is a cell?"
	second := "And what is a tissue?"
	retriever := &fakeRetriever{results: map[string][]core.RetrievalHit{
		first:  {hit(1, "/biology/cells", "A cell is the basic unit of life.", 0.7)},
		second: {hit(2, "/biology/tissues", "A tissue is a group of similar cells.", 0.7)},
	}}
	model := mock.NewMockModel(
		mock.TextResponse("A cell is the basic unit of life [1]."),
		mock.TextResponse("A tissue groups similar cells [1]."),
	)
	e := newTestEngine(t, retriever, model)
	ctx := context.Background()

	a1, err := e.Answer(ctx, first)
	require.NoError(t, err)
	a2, err := e.Answer(ctx, second, WithHistory(Turn{Query: first, Answer: a1.Text}))
	require.NoError(t, err)

	assert.NotEqual(t, a1.TurnID, a2.TurnID)
	require.Len(t, a2.Sources, 1)
	assert.Equal(t, "/biology/tissues", a2.Sources[0].SourceReference)

	var texts []string
	for _, msg := range model.Calls()[1] {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				texts = append(texts, text.Text)
			}
		}
	}
	joined := strings.Join(texts, "\n")
	assert.Contains(t, joined, first)
	assert.Contains(t, joined, a1.Text)
	assert.Contains(t, joined, second)
}

func TestAnswer_ConcurrentTurns(t *testing.T) {
	retriever := &fakeRetriever{results: map[string][]core.RetrievalHit{
		"q": {hit(1, "/ch1", "Some passage.", 0.5)},
	}}
	model := mock.NewMockModel()
	model.GenerateContentFunc = func(ctx context.Context, messages []llms.MessageContent, opts llms.CallOptions) (*llms.ContentResponse, error) {
		return mock.TextResponse("An answer [1]."), nil
	}
	e := newTestEngine(t, retriever, model)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Answer(context.Background(), "q")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 16, model.CallCount())
}
