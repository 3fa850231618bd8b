package dispatch

import (
	"encoding/json"
	"fmt"
)

// ToolCall is a parsed tools/call invocation. Exactly one concrete variant
// exists per tool, so handlers switch on type instead of re-validating names.
type ToolCall interface {
	isToolCall()
}

// SearchCall asks for tickets matching a query.
type SearchCall struct {
	Query string
}

func (*SearchCall) isToolCall() {}

// FetchCall asks for one ticket with its history.
type FetchCall struct {
	ID string
}

func (*FetchCall) isToolCall() {}

func parseToolCall(params json.RawMessage) (ToolCall, error) {
	envelope := struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}{}
	if err := json.Unmarshal(params, &envelope); err != nil {
		return nil, fmt.Errorf("invalid tools/call params: %w", err)
	}
	switch envelope.Name {
	case "search":
		args := struct {
			Query *string `json:"query"`
		}{}
		if err := json.Unmarshal(envelope.Arguments, &args); err != nil || args.Query == nil {
			return nil, fmt.Errorf("search requires a query argument")
		}
		return &SearchCall{Query: *args.Query}, nil
	case "fetch":
		args := struct {
			ID *string `json:"id"`
		}{}
		if err := json.Unmarshal(envelope.Arguments, &args); err != nil || args.ID == nil {
			return nil, fmt.Errorf("fetch requires an id argument")
		}
		return &FetchCall{ID: *args.ID}, nil
	default:
		return nil, fmt.Errorf("Unknown tool: %s", envelope.Name)
	}
}

func toolList() map[string]interface{} {
	return map[string]interface{}{
		"tools": []map[string]interface{}{
			{
				"name":        "search",
				"description": "Search for tickets by keyword. Returns matching tickets with id, title and a summary line.",
				"inputSchema": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"query": map[string]interface{}{
							"type":        "string",
							"description": "Search keywords matched against ticket titles and descriptions",
						},
					},
					"required": []string{"query"},
				},
			},
			{
				"name":        "fetch",
				"description": "Fetch a single ticket by id, including its description, history and metadata.",
				"inputSchema": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"id": map[string]interface{}{
							"type":        "string",
							"description": "Ticket id as returned by search",
						},
					},
					"required": []string{"id"},
				},
			},
		},
	}
}
