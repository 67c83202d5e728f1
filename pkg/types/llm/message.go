package llm

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Role is the speaker of a message.
type Role string

// Message roles understood by every provider.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one provider-neutral conversation message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolCalls is set on assistant messages that request tool use.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	// ToolCallID and Name identify the call a tool message answers.
	ToolCallID string `json:"toolCallId,omitempty"`
	Name       string `json:"name,omitempty"`
}

// ToolCall is a model request to run one function.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSpec advertises a callable function to the model.
type ToolSpec struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Schema      *jsonschema.Schema `json:"schema"`
}

// Request is one completion call.
type Request struct {
	System    string
	Messages  []Message
	Tools     []ToolSpec
	Model     string
	MaxTokens int
}

// Response is the accumulated result of one completion call.
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// ChunkFunc receives streamed text fragments in order.
type ChunkFunc func(text string)

// Client is a streaming completion service. Complete calls onChunk for every
// text fragment before returning the accumulated response.
type Client interface {
	Complete(ctx context.Context, req Request, onChunk ChunkFunc) (*Response, error)
	Provider() string
}
