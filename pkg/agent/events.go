package agent

import (
	"encoding/json"
	"fmt"
)

// EventType names the kind of a streamed event.
type EventType string

// Event types, in the order a consumer may observe them.
const (
	EventChunk      EventType = "chunk"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventFinal      EventType = "final"
)

// Event is one item of an agent stream. Which fields are set depends on Type:
// chunk carries Content; tool_call carries Tool, Action and Args; tool_result
// carries Tool, Action, Success and Output or Error; final carries Content or
// Error.
type Event struct {
	Type    EventType       `json:"type"`
	Content string          `json:"content,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	Action  string          `json:"action,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Success *bool           `json:"success,omitempty"`
	Output  string          `json:"output,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Succeeded reports whether a tool_result event succeeded.
func (e Event) Succeeded() bool {
	return e.Success != nil && *e.Success
}

func chunkEvent(text string) Event {
	return Event{Type: EventChunk, Content: text}
}

func finalEvent(content string) Event {
	return Event{Type: EventFinal, Content: content}
}

func failedEvent(err error) Event {
	return Event{Type: EventFinal, Error: err.Error()}
}

// String renders an event on one line for logs.
func (e Event) String() string {
	switch e.Type {
	case EventToolCall:
		return fmt.Sprintf("tool_call %s.%s %s", e.Tool, e.Action, string(e.Args))
	case EventToolResult:
		if e.Succeeded() {
			return fmt.Sprintf("tool_result %s.%s ok", e.Tool, e.Action)
		}
		return fmt.Sprintf("tool_result %s.%s failed: %s", e.Tool, e.Action, e.Error)
	case EventFinal:
		if e.Error != "" {
			return "final error: " + e.Error
		}
		return "final"
	default:
		return string(e.Type)
	}
}
