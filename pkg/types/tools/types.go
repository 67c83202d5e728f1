// Package tools holds the types shared by tool implementations, the
// registry that dispatches them and the agent loop.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"go.opentelemetry.io/otel/attribute"
)

// SafetyContext bounds what one invocation may touch.
type SafetyContext struct {
	// Root is the directory file access is confined to.
	Root string
	// ReadOnly rejects actions that mutate state.
	ReadOnly bool
}

// Invocation is one requested tool action.
type Invocation struct {
	Tool   string          `json:"tool"`
	Action string          `json:"action"`
	Args   json.RawMessage `json:"args"`
	Safety SafetyContext   `json:"-"`
}

// Result is the outcome of an invocation. Output is meaningful on success,
// Error otherwise.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// String renders the result for the model.
func (r Result) String() string {
	if !r.Success {
		return fmt.Sprintf("<error>\n%s\n</error>\n", r.Error)
	}
	return fmt.Sprintf("<result>\n%s\n</result>\n", r.Output)
}

// Handler executes one action.
type Handler func(ctx context.Context, inv Invocation) (string, error)

// Action is one operation a tool exposes.
type Action struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Handler     Handler
	// Mutates marks actions rejected under a read-only SafetyContext.
	Mutates bool
}

// Tool groups related actions under a name.
type Tool interface {
	Name() string
	Description() string
	Actions() []Action
}

// Tracer is implemented by tools that annotate dispatch spans.
type Tracer interface {
	TracingKVs(action string, args json.RawMessage) []attribute.KeyValue
}

// Success builds a successful result.
func Success(output string) Result {
	return Result{Success: true, Output: output}
}

// Failure builds a failed result.
func Failure(err error) Result {
	return Result{Success: false, Error: err.Error()}
}
