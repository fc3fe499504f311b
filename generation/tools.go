package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/poiesic/folio/core"
)

// SearchToolName is the name of the retrieval tool offered to the model.
const SearchToolName = "search_textbook"

var searchTool = llms.Tool{
	Type: "function",
	Function: &llms.FunctionDefinition{
		Name:        SearchToolName,
		Description: "Search the textbook for passages relevant to a query. Returns numbered passages.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to look up in the textbook",
				},
			},
			"required": []string{"query"},
		},
	},
}

type searchArgs struct {
	Query string `json:"query"`
}

func parseSearchArgs(arguments string) (string, error) {
	var args searchArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("%w: tool arguments: %w", core.ErrInput, err)
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return "", fmt.Errorf("%w: tool query is empty", core.ErrInput)
	}
	return query, nil
}

func searchArguments(query string) string {
	data, _ := json.Marshal(searchArgs{Query: query})
	return string(data)
}

// toolCallMessage is the assistant message requesting the given calls.
func toolCallMessage(calls []llms.ToolCall) llms.MessageContent {
	parts := make([]llms.ContentPart, 0, len(calls))
	for _, call := range calls {
		parts = append(parts, call)
	}
	return llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts}
}

// toolResultMessage is the tool message answering the call with id.
func toolResultMessage(id, name, content string) llms.MessageContent {
	return llms.MessageContent{
		Role: llms.ChatMessageTypeTool,
		Parts: []llms.ContentPart{llms.ToolCallResponse{
			ToolCallID: id,
			Name:       name,
			Content:    content,
		}},
	}
}
