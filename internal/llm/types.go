package llm

import (
	"context"
	"encoding/json"
)

// Message roles in a chat transcript.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in a chat transcript, in the OpenAI
// chat-completions shape.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its raw JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is one entry of the tools payload for a completion call.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a callable function to the model.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request is a single chat-completion request. Tools and ToolChoice are
// omitted from the wire call when empty; some providers reject an empty
// tool list.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	ToolChoice  string
	MaxTokens   int
	Temperature *float64
}

// Completion is the provider's answer to a Request.
type Completion struct {
	Choices []Choice
}

// Choice is one candidate message from a completion.
type Choice struct {
	Message      Message
	FinishReason string
}

// Client issues chat completions. Implementations own all retry and
// failover behavior; a returned error is final for the caller.
type Client interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}
