package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// ErrNoScriptedResponse is returned when a MockModel runs out of responses.
var ErrNoScriptedResponse = errors.New("mock model: no scripted response")

// MockModel is a test double for llms.Model.
// It replays scripted responses in order and records every request.
type MockModel struct {
	// GenerateContentFunc is called by GenerateContent if set.
	// If nil, scripted responses are returned in order.
	GenerateContentFunc func(ctx context.Context, messages []llms.MessageContent, opts llms.CallOptions) (*llms.ContentResponse, error)

	mu        sync.Mutex
	responses []*llms.ContentResponse
	calls     [][]llms.MessageContent
	options   []llms.CallOptions
}

var _ llms.Model = (*MockModel)(nil)

// NewMockModel creates a mock model that replays responses in order.
func NewMockModel(responses ...*llms.ContentResponse) *MockModel {
	return &MockModel{responses: responses}
}

// GenerateContent records the request and returns the next scripted response.
func (m *MockModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, opt := range options {
		opt(&opts)
	}

	m.mu.Lock()
	m.calls = append(m.calls, append([]llms.MessageContent(nil), messages...))
	m.options = append(m.options, opts)
	fn := m.GenerateContentFunc
	var next *llms.ContentResponse
	if fn == nil && len(m.responses) > 0 {
		next = m.responses[0]
		m.responses = m.responses[1:]
	}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, messages, opts)
	}
	if next == nil {
		return nil, ErrNoScriptedResponse
	}
	return next, nil
}

// Call implements the single-prompt convenience method of llms.Model.
func (m *MockModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// CallCount returns the number of GenerateContent calls.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns the messages sent with every GenerateContent call.
func (m *MockModel) Calls() [][]llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]llms.MessageContent(nil), m.calls...)
}

// Options returns the resolved call options of every GenerateContent call.
func (m *MockModel) Options() []llms.CallOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llms.CallOptions(nil), m.options...)
}

// TextResponse builds a response carrying a plain text answer.
func TextResponse(text string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: text, StopReason: "stop"}},
	}
}

// ToolCallReply builds a response in which the model requests a tool call.
func ToolCallReply(id, name, arguments string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			StopReason: "tool_calls",
			ToolCalls: []llms.ToolCall{{
				ID:   id,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      name,
					Arguments: arguments,
				},
			}},
		}},
	}
}
