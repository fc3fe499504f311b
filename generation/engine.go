package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/search"
)

const (
	// DefaultMaxToolRounds bounds the extra searches the model may request per turn.
	DefaultMaxToolRounds = 2

	// DefaultCallTimeout bounds a single language model call.
	DefaultCallTimeout = 60 * time.Second
)

// Retriever supplies evidence for a query.
// *search.Retriever satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]core.RetrievalHit, error)
}

// Turn is a completed exchange from earlier in the conversation.
type Turn struct {
	Query  string
	Answer string
}

// Answer is the outcome of one turn.
type Answer struct {
	TurnID   uuid.UUID
	Text     string
	Sources  []core.Source       // Passages the answer is attributed to, empty for a fallback
	Fallback bool                // True when Text is FallbackAnswer
	Reason   error               // core.ErrEvidenceInsufficient for a fallback, nil otherwise
	Evidence []core.RetrievalHit // Everything retrieved during the turn
	States   []State             // Visited states, starting with StateIdle
}

// Engine answers questions strictly from retrieved textbook passages.
// Retrieval always runs before the model is invoked, and an empty
// retrieval short-circuits to FallbackAnswer without calling the model.
// Engine holds no per-turn state and is safe for concurrent use.
type Engine struct {
	retriever     Retriever
	model         llms.Model
	k             int
	maxToolRounds int
	callTimeout   time.Duration
	retry         core.RetryPolicy
	temperature   float64
	snippetLength int
	logger        *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// WithK sets how many passages each retrieval asks for. Default is search.DefaultK.
func WithK(k int) Option {
	return func(e *Engine) error {
		if k <= 0 {
			return fmt.Errorf("%w: k must be positive, got %d", core.ErrInput, k)
		}
		e.k = k
		return nil
	}
}

// WithMaxToolRounds sets how many follow-up searches the model may request.
// Zero disables the search tool after the initial retrieval.
func WithMaxToolRounds(n int) Option {
	return func(e *Engine) error {
		if n < 0 {
			return fmt.Errorf("%w: max tool rounds must not be negative, got %d", core.ErrInput, n)
		}
		e.maxToolRounds = n
		return nil
	}
}

// WithCallTimeout bounds each language model call.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) error {
		if d <= 0 {
			return fmt.Errorf("%w: call timeout must be positive, got %s", core.ErrInput, d)
		}
		e.callTimeout = d
		return nil
	}
}

// WithRetryPolicy sets the backoff applied to failed model calls.
func WithRetryPolicy(policy core.RetryPolicy) Option {
	return func(e *Engine) error {
		if policy.MaxAttempts <= 0 {
			return core.ErrInvalidMaxAttempts
		}
		e.retry = policy
		return nil
	}
}

// WithTemperature sets the sampling temperature. Default is 0.
func WithTemperature(t float64) Option {
	return func(e *Engine) error {
		if t < 0 || t > 2 {
			return fmt.Errorf("%w: temperature must be within [0, 2], got %v", core.ErrInput, t)
		}
		e.temperature = t
		return nil
	}
}

// WithSnippetLength sets the maximum length of source snippets.
func WithSnippetLength(n int) Option {
	return func(e *Engine) error {
		if n <= 0 {
			return fmt.Errorf("%w: snippet length must be positive, got %d", core.ErrInput, n)
		}
		e.snippetLength = n
		return nil
	}
}

// NewEngine creates an engine answering from retriever through model.
func NewEngine(retriever Retriever, model llms.Model, opts ...Option) (*Engine, error) {
	if retriever == nil {
		return nil, ErrRetrieverRequired
	}
	if model == nil {
		return nil, ErrModelRequired
	}

	e := &Engine{
		retriever:     retriever,
		model:         model,
		k:             search.DefaultK,
		maxToolRounds: DefaultMaxToolRounds,
		callTimeout:   DefaultCallTimeout,
		retry:         core.DefaultRetryPolicy(),
		snippetLength: search.DefaultSnippetLength,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("component", "generation")
	return e, nil
}

type answerOptions struct {
	history  []Turn
	observer Observer
}

// AnswerOption configures a single call to Answer.
type AnswerOption func(*answerOptions)

// WithHistory supplies earlier turns of the conversation, oldest first.
// History is context for the model only; it never contributes sources.
func WithHistory(turns ...Turn) AnswerOption {
	return func(o *answerOptions) {
		o.history = append(o.history, turns...)
	}
}

// WithObserver registers a callback for every state change of the turn.
func WithObserver(observer Observer) AnswerOption {
	return func(o *answerOptions) {
		o.observer = observer
	}
}

// turn carries the mutable state of one Answer call.
type turn struct {
	id       uuid.UUID
	query    string
	machine  *machine
	evidence *evidence
	logger   *slog.Logger
}

// Answer runs one question through retrieve, generate and ground.
// Insufficient evidence is a normal outcome reported through Answer.Fallback.
// Model failures move the turn to StateError and return an error wrapping
// core.ErrProvider; a canceled context skips any remaining step.
func (e *Engine) Answer(ctx context.Context, query string, opts ...AnswerOption) (*Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	var o answerOptions
	for _, opt := range opts {
		opt(&o)
	}

	t := &turn{
		id:       uuid.New(),
		query:    query,
		machine:  newMachine(o.observer),
		evidence: newEvidence(),
	}
	t.logger = e.logger.With("turn", t.id.String())

	if err := t.machine.advance(StateAwaitingRetrieval); err != nil {
		return nil, err
	}
	hits, numbers, err := e.retrieve(ctx, t, query)
	if err != nil {
		return nil, t.machine.fail(err)
	}
	if err := t.machine.advance(StateRetrieved); err != nil {
		return nil, err
	}
	if t.evidence.empty() {
		t.logger.Info("no evidence retrieved, answering with fallback", "query", query)
		return e.fallback(t)
	}

	messages := e.initialMessages(t, o.history, hits, numbers)
	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			return nil, t.machine.fail(err)
		}
		if err := t.machine.advance(StateAnswering); err != nil {
			return nil, err
		}

		allowTools := round < e.maxToolRounds
		choice, err := e.generate(ctx, messages, allowTools)
		if err != nil {
			t.logger.Warn("generation failed", "round", round, "err", err)
			return nil, t.machine.fail(err)
		}

		if allowTools && len(choice.ToolCalls) > 0 {
			messages, err = e.runTools(ctx, t, messages, choice.ToolCalls)
			if err != nil {
				return nil, t.machine.fail(err)
			}
			continue
		}

		text := strings.TrimSpace(choice.Content)
		if text == "" || isFallback(text) {
			t.logger.Info("model could not ground an answer, answering with fallback", "round", round)
			return e.fallback(t)
		}
		return e.finish(t, text)
	}
}

func (e *Engine) retrieve(ctx context.Context, t *turn, query string) ([]core.RetrievalHit, []int, error) {
	hits, err := e.retriever.Retrieve(ctx, query, e.k)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieve: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	t.logger.Debug("retrieved evidence", "query", query, "hits", len(hits))
	return hits, t.evidence.add(hits), nil
}

// initialMessages presents the mandatory first retrieval to the model as a
// search it already performed.
func (e *Engine) initialMessages(t *turn, history []Turn, hits []core.RetrievalHit, numbers []int) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, 4+2*len(history))
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	for _, h := range history {
		messages = append(messages,
			llms.TextParts(llms.ChatMessageTypeHuman, h.Query),
			llms.TextParts(llms.ChatMessageTypeAI, h.Answer),
		)
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, t.query))

	call := llms.ToolCall{
		ID:   "retrieval-" + t.id.String(),
		Type: "function",
		FunctionCall: &llms.FunctionCall{
			Name:      SearchToolName,
			Arguments: searchArguments(t.query),
		},
	}
	messages = append(messages,
		toolCallMessage([]llms.ToolCall{call}),
		toolResultMessage(call.ID, SearchToolName, formatEvidence(hits, numbers)),
	)
	return messages
}

// runTools executes a round of tool calls requested by the model.
func (e *Engine) runTools(ctx context.Context, t *turn, messages []llms.MessageContent, calls []llms.ToolCall) ([]llms.MessageContent, error) {
	if err := t.machine.advance(StateAwaitingRetrieval); err != nil {
		return nil, err
	}
	messages = append(messages, toolCallMessage(calls))
	for _, call := range calls {
		if call.FunctionCall == nil || call.FunctionCall.Name != SearchToolName {
			name := ""
			if call.FunctionCall != nil {
				name = call.FunctionCall.Name
			}
			t.logger.Warn("model requested unknown tool", "tool", name)
			messages = append(messages, toolResultMessage(call.ID, name, "Unknown tool. Only search_textbook is available."))
			continue
		}

		query, err := parseSearchArgs(call.FunctionCall.Arguments)
		if err != nil {
			messages = append(messages, toolResultMessage(call.ID, SearchToolName, "Invalid arguments: "+err.Error()))
			continue
		}
		hits, numbers, err := e.retrieve(ctx, t, query)
		if err != nil {
			return nil, err
		}
		messages = append(messages, toolResultMessage(call.ID, SearchToolName, formatEvidence(hits, numbers)))
	}
	if err := t.machine.advance(StateRetrieved); err != nil {
		return nil, err
	}
	return messages, nil
}

// generate calls the model with a per-call timeout, retrying provider failures.
func (e *Engine) generate(ctx context.Context, messages []llms.MessageContent, allowTools bool) (*llms.ContentChoice, error) {
	opts := []llms.CallOption{llms.WithTemperature(e.temperature)}
	if allowTools {
		opts = append(opts, llms.WithTools([]llms.Tool{searchTool}))
	}

	var choice *llms.ContentChoice
	err := core.Retry(ctx, e.retry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()

		resp, err := e.model.GenerateContent(callCtx, messages, opts...)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, core.ErrProvider) {
				return err
			}
			return fmt.Errorf("%w: generate: %w", core.ErrProvider, err)
		}
		if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
			return ErrMalformedResponse
		}
		choice = resp.Choices[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return choice, nil
}

func (e *Engine) fallback(t *turn) (*Answer, error) {
	if err := t.machine.advance(StateDone); err != nil {
		return nil, err
	}
	return &Answer{
		TurnID:   t.id,
		Text:     FallbackAnswer,
		Sources:  []core.Source{},
		Fallback: true,
		Reason:   core.ErrEvidenceInsufficient,
		Evidence: t.evidence.hits,
		States:   t.machine.states(),
	}, nil
}

func (e *Engine) finish(t *turn, text string) (*Answer, error) {
	if err := t.machine.advance(StateDone); err != nil {
		return nil, err
	}
	sources := t.evidence.sources(text, t.query, e.snippetLength)
	t.logger.Info("answered", "sources", len(sources), "evidence", len(t.evidence.hits))
	return &Answer{
		TurnID:   t.id,
		Text:     text,
		Sources:  sources,
		Evidence: t.evidence.hits,
		States:   t.machine.states(),
	}, nil
}
