// Package agent runs the bounded conversation turn loop: prompt
// assembly, tool dispatch, and the final reply.
package agent

import (
	"context"
	"encoding/json"
	"time"
)

const (
	// MaxIterations caps the number of LLM calls in a single turn.
	MaxIterations = 10

	// ToolCallTimeout is the per-tool-call deadline.
	ToolCallTimeout = 30 * time.Second

	// IterationCapMessage is the synthesized reply when the loop hits
	// MaxIterations while the model still wants tools.
	IterationCapMessage = "I've completed the available steps of the requested task."

	// EmptyResponsePlaceholder replaces a null final content.
	EmptyResponsePlaceholder = "I've completed the requested task."

	// PersistedNullPlaceholder replaces null assistant content in
	// persisted history.
	PersistedNullPlaceholder = "[No response]"

	// ErrorPrefix starts user-facing error replies.
	ErrorPrefix = "I apologize, but I encountered an error: "

	toolTimeoutError = "Tool call timed out after 30 seconds"
)

// Property describes one parameter of a tool schema.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// ParameterSchema is the typed parameter declaration of a tool. Every
// declared key appears in Required; semantically optional parameters
// are declared nullable and may carry null.
type ParameterSchema struct {
	Properties map[string]Property
	Required   []string
}

// JSON renders the schema as a JSON-schema object string.
func (s ParameterSchema) JSON() string {
	type object struct {
		Type       string              `json:"type"`
		Properties map[string]Property `json:"properties"`
		Required   []string            `json:"required"`
	}
	properties := s.Properties
	if properties == nil {
		properties = map[string]Property{}
	}
	required := s.Required
	if required == nil {
		required = []string{}
	}
	data, err := json.Marshal(object{Type: "object", Properties: properties, Required: required})
	if err != nil {
		return `{"type":"object","properties":{}}`
	}
	return string(data)
}

// Tool is one callable capability exposed to the model. Execute
// receives validated arguments and returns a result map; the registry
// guarantees a `success` field in what reaches the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() ParameterSchema
	Execute(ctx context.Context, args map[string]any) (map[string]any, error)
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolResult is the outcome of one tool call, with the payload
// already serialized for the tool role message.
type ToolResult struct {
	ToolCallID string
	Name       string
	Success    bool
	Payload    string
}

// Event is a progress notification emitted during a turn.
type Event struct {
	Type   string `json:"type"` // "tool_use", "tool_result", "revival", "answer"
	Name   string `json:"name,omitempty"`
	Detail string `json:"detail,omitempty"`
}
